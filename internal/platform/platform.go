package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fusebench/internal/telemetry"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

// DefaultAPIServer is the public API endpoint.
const DefaultAPIServer = "https://api.dnanexus.com"

// Config holds the API endpoint, credentials and request pacing.
type Config struct {
	APIServer         string
	Token             string
	RequestsPerSecond float64
	Retries           int
	Timeout           time.Duration
	PollInterval      time.Duration
}

// Project is a resolved handle on a remote project.
type Project struct {
	ID     string
	Name   string
	Region string
}

// Applet is a runnable program located inside a project.
type Applet struct {
	ID      string
	Project string
}

// Job is a launched applet execution.
type Job struct {
	ID string
}

// JobDescription is the subset of a job's describe output the harness reads.
type JobDescription struct {
	ID                 string                       `json:"id"`
	State              api.JobState                 `json:"state"`
	SystemRequirements map[string]SystemRequirement `json:"systemRequirements"`
	Output             map[string]json.RawMessage   `json:"output"`
	FailureReason      string                       `json:"failureReason"`
	FailureMessage     string                       `json:"failureMessage"`
}

type SystemRequirement struct {
	InstanceType string `json:"instanceType"`
}

// InstanceType returns the instance type requested for all entry points.
func (d *JobDescription) InstanceType() string {
	return d.SystemRequirements["*"].InstanceType
}

// StringList decodes an output field holding an array of strings.
func (d *JobDescription) StringList(field string) ([]string, error) {
	raw, ok := d.Output[field]
	if !ok {
		return nil, fmt.Errorf("job %s: output field %q: %w", d.ID, field, ErrNotFound)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("job %s: decode output field %q: %w", d.ID, field, err)
	}
	return out, nil
}

// Client talks to the platform API server.
type Client struct {
	cfg  Config
	http *RetryableHTTPClient
}

// NewClient creates a client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.APIServer == "" {
		cfg.APIServer = DefaultAPIServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	retry := DefaultRetryConfig()
	if cfg.Retries >= 0 {
		retry.MaxRetries = cfg.Retries
	}
	return &Client{
		cfg:  cfg,
		http: NewRetryableHTTPClient(cfg.Timeout, cfg.RequestsPerSecond, retry),
	}
}

type describeProjectResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// DescribeProject fetches id, name and region of a project.
func (c *Client) DescribeProject(ctx context.Context, projectID string) (*Project, error) {
	var resp describeProjectResponse
	req := map[string]interface{}{"fields": map[string]bool{"id": true, "name": true, "region": true}}
	if err := c.doRequest(ctx, projectID+"/describe", req, &resp); err != nil {
		return nil, fmt.Errorf("describe project %s: %w", projectID, err)
	}
	return &Project{ID: resp.ID, Name: resp.Name, Region: resp.Region}, nil
}

type findProjectsRequest struct {
	Name     string          `json:"name"`
	Level    string          `json:"level"`
	Starting json.RawMessage `json:"starting,omitempty"`
}

type findResponse struct {
	Results []struct {
		ID      string `json:"id"`
		Project string `json:"project"`
	} `json:"results"`
	Next json.RawMessage `json:"next"`
}

// FindProjects returns the ids of projects named exactly name that the
// caller can at least view. All result pages are followed.
func (c *Client) FindProjects(ctx context.Context, name string) ([]string, error) {
	var ids []string
	req := findProjectsRequest{Name: name, Level: "VIEW"}
	for {
		var resp findResponse
		if err := c.doRequest(ctx, "system/findProjects", req, &resp); err != nil {
			return nil, fmt.Errorf("find projects %q: %w", name, err)
		}
		for _, r := range resp.Results {
			ids = append(ids, r.ID)
		}
		if isNull(resp.Next) {
			return ids, nil
		}
		req.Starting = resp.Next
	}
}

// DataObjectQuery narrows a findDataObjects search.
type DataObjectQuery struct {
	Class   string
	Name    string
	Project string
	Folder  string
	Limit   int
}

// FindDataObjects returns matching objects as (project, id) pairs in their
// applet handle form.
func (c *Client) FindDataObjects(ctx context.Context, q DataObjectQuery) ([]Applet, error) {
	req := map[string]interface{}{
		"class": q.Class,
		"name":  q.Name,
		"scope": map[string]interface{}{
			"project": q.Project,
			"folder":  q.Folder,
			"recurse": false,
		},
	}
	if q.Limit > 0 {
		req["limit"] = q.Limit
	}
	var resp findResponse
	if err := c.doRequest(ctx, "system/findDataObjects", req, &resp); err != nil {
		return nil, fmt.Errorf("find data objects %q in %s:%s: %w", q.Name, q.Project, q.Folder, err)
	}
	objs := make([]Applet, 0, len(resp.Results))
	for _, r := range resp.Results {
		objs = append(objs, Applet{ID: r.ID, Project: r.Project})
	}
	return objs, nil
}

// RunApplet launches applet on project with empty input and instanceType
// as the only execution parameter. Each call carries a fresh nonce that
// transport retries resend unchanged, so the platform starts one job per call.
func (c *Client) RunApplet(ctx context.Context, applet Applet, projectID, instanceType string) (*Job, error) {
	req := map[string]interface{}{
		"input":   map[string]interface{}{},
		"project": projectID,
		"nonce":   uuid.NewString(),
		"systemRequirements": map[string]SystemRequirement{
			"*": {InstanceType: instanceType},
		},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, applet.ID+"/run", req, &resp); err != nil {
		return nil, fmt.Errorf("run applet %s on %s: %w", applet.ID, instanceType, err)
	}
	return &Job{ID: resp.ID}, nil
}

// DescribeJob fetches the job's state, requirements and output.
func (c *Client) DescribeJob(ctx context.Context, jobID string) (*JobDescription, error) {
	var desc JobDescription
	if err := c.doRequest(ctx, jobID+"/describe", map[string]interface{}{}, &desc); err != nil {
		return nil, fmt.Errorf("describe job %s: %w", jobID, err)
	}
	return &desc, nil
}

// WaitJob polls the job until it reaches a terminal state and returns that
// state. There is no timeout beyond ctx.
func (c *Client) WaitJob(ctx context.Context, jobID string) (api.JobState, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		desc, err := c.DescribeJob(ctx, jobID)
		if err != nil {
			return "", err
		}
		if desc.State.Terminal() {
			if desc.State.Failed() {
				log.Debug().Str("job", jobID).Str("reason", desc.FailureReason).Msg(desc.FailureMessage)
			}
			return desc.State, nil
		}
		log.Trace().Str("job", jobID).Str("state", string(desc.State)).Msg("waiting")

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// doRequest performs a POST to the API server route and decodes the JSON reply.
func (c *Client) doRequest(ctx context.Context, route string, body interface{}, result interface{}) error {
	url := strings.TrimRight(c.cfg.APIServer, "/") + "/" + route

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Post(ctx, url, header, payload)
	labels := map[string]string{"method": path.Base(route)}
	if err != nil {
		labels["status"] = "error"
		telemetry.TimerGlobal("api_request", time.Since(start), labels)
		return fmt.Errorf("do request: %w", err)
	}
	labels["status"] = strconv.Itoa(resp.StatusCode)
	telemetry.TimerGlobal("api_request", time.Since(start), labels)
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, data)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Type == "" {
		return &APIError{Status: status, Type: http.StatusText(status), Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: status, Type: envelope.Error.Type, Message: envelope.Error.Message}
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
