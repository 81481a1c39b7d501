package core

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/3cpo-dev/fusebench/internal/platform"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

// ResultField is the job output field holding the measurement lines.
const ResultField = "result"

// Column positions of a measurement line: file, ?, baseline, ?, mount.
// This is fixed by the benchmark applet's own report.
const (
	colFile     = 0
	colBaseline = 2
	colMount    = 4
	minColumns  = 5
)

// JobDescriber fetches a job's description.
type JobDescriber interface {
	DescribeJob(ctx context.Context, jobID string) (*platform.JobDescription, error)
}

// CollectResults reads the result lines of each job, in job order.
func CollectResults(ctx context.Context, d JobDescriber, jobs []platform.Job) ([]api.ResultRow, error) {
	var rows []api.ResultRow
	for _, j := range jobs {
		desc, err := d.DescribeJob(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		lines, err := resultLines(desc)
		if err != nil {
			return nil, err
		}
		jobRows, err := ParseResultLines(desc.InstanceType(), lines)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.ID, err)
		}
		rows = append(rows, jobRows...)
	}
	return rows, nil
}

// resultLines accepts the output as a list of lines or as a single
// newline-separated string.
func resultLines(desc *platform.JobDescription) ([]string, error) {
	lines, err := desc.StringList(ResultField)
	if err == nil {
		return lines, nil
	}
	raw, ok := desc.Output[ResultField]
	if !ok {
		return nil, err
	}
	var blob string
	if jerr := json.Unmarshal(raw, &blob); jerr != nil {
		return nil, err
	}
	return strings.Split(blob, "\n"), nil
}

// ParseResultBlob splits a newline-separated report and parses it.
func ParseResultBlob(instanceType, blob string) ([]api.ResultRow, error) {
	return ParseResultLines(instanceType, strings.Split(blob, "\n"))
}

// ParseResultLines skips the header line and parses each measurement line.
// Blank lines are ignored; short or non-numeric lines are rejected.
func ParseResultLines(instanceType string, lines []string) ([]api.ResultRow, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	var rows []api.ResultRow
	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < minColumns {
			return nil, fmt.Errorf("line %d %q: %d columns, want at least %d: %w", i+1, line, len(parts), minColumns, ErrMalformedResult)
		}
		file := strings.TrimSpace(parts[colFile])
		if file == "" {
			return nil, fmt.Errorf("line %d %q: empty file name: %w", i+1, line, ErrMalformedResult)
		}
		baseline, err := strconv.ParseFloat(strings.TrimSpace(parts[colBaseline]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d %q: baseline seconds: %v: %w", i+1, line, err, ErrMalformedResult)
		}
		mount, err := strconv.ParseFloat(strings.TrimSpace(parts[colMount]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d %q: mount seconds: %v: %w", i+1, line, err, ErrMalformedResult)
		}
		rows = append(rows, api.ResultRow{
			InstanceType:    instanceType,
			File:            file,
			BaselineSeconds: baseline,
			MountSeconds:    mount,
		})
	}
	return rows, nil
}

// WriteResults renders rows as "table" (default), "csv" or "json".
func WriteResults(w io.Writer, rows []api.ResultRow, format string) error {
	switch format {
	case "csv":
		return writeCSV(w, rows)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "", "table":
		return writeTable(w, rows)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeTable(w io.Writer, rows []api.ResultRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE-TYPE\tFILE\tDOWNLOAD (SEC)\tMOUNT (SEC)")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.InstanceType, r.File, formatSeconds(r.BaselineSeconds), formatSeconds(r.MountSeconds))
	}
	return tw.Flush()
}

func writeCSV(w io.Writer, rows []api.ResultRow) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"instance-type", "file", "download_seconds", "mount_seconds"})
	for _, r := range rows {
		_ = cw.Write([]string{r.InstanceType, r.File, formatSeconds(r.BaselineSeconds), formatSeconds(r.MountSeconds)})
	}
	cw.Flush()
	return cw.Error()
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
