package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
)

// Metric represents a telemetry metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Summary aggregates the metrics sharing a name and label set.
type Summary struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Count  int               `json:"count"`
	Sum    float64           `json:"sum"`
	Min    float64           `json:"min"`
	Max    float64           `json:"max"`
	Unit   string            `json:"unit,omitempty"`
}

// Collector keeps metrics in memory until they are written out.
type Collector struct {
	mu      sync.RWMutex
	metrics []Metric
	enabled bool
}

// NewCollector creates a new telemetry collector
func NewCollector(enabled bool) *Collector {
	return &Collector{enabled: enabled}
}

func (c *Collector) Enabled() bool { return c.enabled }

// Counter increments a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.addMetric(Metric{Name: name, Type: Counter, Value: value, Labels: labels, Timestamp: time.Now()})
}

// Timer records a duration measurement
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.addMetric(Metric{
		Name:      name,
		Type:      Timer,
		Value:     float64(duration.Milliseconds()),
		Labels:    labels,
		Timestamp: time.Now(),
		Unit:      "ms",
	})
}

func (c *Collector) addMetric(metric Metric) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, metric)
}

// GetMetrics returns a copy of current metrics
func (c *Collector) GetMetrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Metric, len(c.metrics))
	copy(result, c.metrics)
	return result
}

// Summarize groups metrics by name and labels, sorted by key.
func (c *Collector) Summarize() []Summary {
	byKey := map[string]*Summary{}
	var keys []string
	for _, m := range c.GetMetrics() {
		k := key(m.Name, m.Labels)
		s, ok := byKey[k]
		if !ok {
			s = &Summary{Name: m.Name, Type: m.Type, Labels: m.Labels, Min: m.Value, Max: m.Value, Unit: m.Unit}
			byKey[k] = s
			keys = append(keys, k)
		}
		s.Count++
		s.Sum += m.Value
		if m.Value < s.Min {
			s.Min = m.Value
		}
		if m.Value > s.Max {
			s.Max = m.Value
		}
	}
	sort.Strings(keys)
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}

func key(name string, labels map[string]string) string {
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

// WriteJSON writes the summaries as indented JSON.
func (c *Collector) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Summarize())
}

// Flush writes the summaries to path, or logs them when path is empty.
func (c *Collector) Flush(path string) error {
	if !c.enabled {
		return nil
	}
	if path == "" {
		for _, s := range c.Summarize() {
			log.Debug().
				Str("name", s.Name).
				Interface("labels", s.Labels).
				Int("count", s.Count).
				Float64("sum", s.Sum).
				Str("unit", s.Unit).
				Msg("telemetry_metric")
		}
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := c.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Global collector instance
var (
	globalMu        sync.RWMutex
	globalCollector = NewCollector(false)
)

// InitGlobal initializes the global telemetry collector
func InitGlobal(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = NewCollector(enabled)
}

// GetGlobal returns the global collector
func GetGlobal() *Collector {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCollector
}

// CounterGlobal increments a counter using the global collector
func CounterGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Counter(name, value, labels)
}

// TimerGlobal records a timer using the global collector
func TimerGlobal(name string, duration time.Duration, labels map[string]string) {
	GetGlobal().Timer(name, duration, labels)
}
