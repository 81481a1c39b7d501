package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fusebench/pkg/api"
)

const testProjectID = "project-FbZ8Yz8041j6Q0QJ3p2qVx4K"

// fakeAPI routes POST requests to handlers keyed by path.
type fakeAPI struct {
	routes map[string]func(body map[string]interface{}) (int, interface{})
	calls  map[string]*int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{routes: map[string]func(map[string]interface{}) (int, interface{}){}, calls: map[string]*int32{}}
}

func (f *fakeAPI) handle(path string, h func(body map[string]interface{}) (int, interface{})) {
	f.routes[path] = h
	f.calls[path] = new(int32)
}

func (f *fakeAPI) count(path string) int { return int(atomic.LoadInt32(f.calls[path])) }

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, ok := f.routes[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]string{"type": "ResourceNotFound", "message": r.URL.Path}})
		return
	}
	atomic.AddInt32(f.calls[r.URL.Path], 1)
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	status, resp := h(body)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := NewClient(Config{APIServer: srv.URL, Token: "tok", Retries: 2, Timeout: 5 * time.Second, PollInterval: 5 * time.Millisecond})
	c.http.retryConfig.InitialDelay = time.Millisecond
	c.http.retryConfig.MaxDelay = time.Millisecond
	return c
}

func describeOK(body map[string]interface{}) (int, interface{}) {
	return 200, map[string]string{"id": testProjectID, "name": "dxfuse_test_data", "region": "aws:us-east-1"}
}

func TestValidProjectID(t *testing.T) {
	assert.True(t, ValidProjectID(testProjectID))
	assert.True(t, ValidProjectID("container-FbZ8Yz8041j6Q0QJ3p2qVx4K"))
	assert.False(t, ValidProjectID("dxfuse_test_data"))
	assert.False(t, ValidProjectID("project-short"))
	assert.False(t, ValidProjectID("file-FbZ8Yz8041j6Q0QJ3p2qVx4K"))
}

func TestResolveProjectByID(t *testing.T) {
	f := newFakeAPI()
	f.handle("/"+testProjectID+"/describe", describeOK)
	f.handle("/system/findProjects", func(map[string]interface{}) (int, interface{}) {
		return 200, map[string]interface{}{"results": []interface{}{}}
	})
	c := newTestClient(t, f)

	p, err := c.ResolveProject(context.Background(), testProjectID)
	require.NoError(t, err)
	assert.Equal(t, "aws:us-east-1", p.Region)
	assert.Equal(t, 0, f.count("/system/findProjects"))
}

func TestResolveProjectByName(t *testing.T) {
	f := newFakeAPI()
	f.handle("/"+testProjectID+"/describe", describeOK)
	f.handle("/system/findProjects", func(body map[string]interface{}) (int, interface{}) {
		assert.Equal(t, "dxfuse_test_data", body["name"])
		assert.Equal(t, "VIEW", body["level"])
		return 200, map[string]interface{}{"results": []map[string]string{{"id": testProjectID}}, "next": nil}
	})
	c := newTestClient(t, f)

	p, err := c.ResolveProject(context.Background(), "dxfuse_test_data")
	require.NoError(t, err)
	assert.Equal(t, testProjectID, p.ID)
	assert.Equal(t, "dxfuse_test_data", p.Name)
}

func TestResolveProjectNotFound(t *testing.T) {
	f := newFakeAPI()
	f.handle("/system/findProjects", func(map[string]interface{}) (int, interface{}) {
		return 200, map[string]interface{}{"results": []interface{}{}}
	})
	c := newTestClient(t, f)

	_, err := c.ResolveProject(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestResolveProjectAmbiguousAcrossPages(t *testing.T) {
	f := newFakeAPI()
	f.handle("/system/findProjects", func(body map[string]interface{}) (int, interface{}) {
		if body["starting"] == nil {
			return 200, map[string]interface{}{
				"results": []map[string]string{{"id": testProjectID}},
				"next":    map[string]string{"id": "project-next"},
			}
		}
		return 200, map[string]interface{}{
			"results": []map[string]string{{"id": "project-FbZ8Yz8041j6Q0QJ3p2qVx4Z"}},
			"next":    nil,
		}
	})
	c := newTestClient(t, f)

	_, err := c.ResolveProject(context.Background(), "dup")
	require.ErrorIs(t, err, ErrAmbiguousName)
	assert.Equal(t, 2, f.count("/system/findProjects"))
}

func TestLookupApplet(t *testing.T) {
	f := newFakeAPI()
	f.handle("/system/findDataObjects", func(body map[string]interface{}) (int, interface{}) {
		assert.Equal(t, "applet", body["class"])
		assert.EqualValues(t, 1, body["limit"])
		scope := body["scope"].(map[string]interface{})
		assert.Equal(t, "/applets", scope["folder"])
		if body["name"] == "dxfuse_benchmark" {
			return 200, map[string]interface{}{"results": []map[string]string{{"id": "applet-1", "project": testProjectID}}}
		}
		return 200, map[string]interface{}{"results": []interface{}{}}
	})
	c := newTestClient(t, f)
	proj := &Project{ID: testProjectID}

	a, err := c.LookupApplet(context.Background(), proj, "/applets", "dxfuse_benchmark")
	require.NoError(t, err)
	assert.Equal(t, "applet-1", a.ID)
	assert.Equal(t, testProjectID, a.Project)

	_, err = c.LookupApplet(context.Background(), proj, "/applets", "nope")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not found in folder /applets")
}

func TestLookupAppletTooManyResults(t *testing.T) {
	f := newFakeAPI()
	f.handle("/system/findDataObjects", func(map[string]interface{}) (int, interface{}) {
		return 200, map[string]interface{}{"results": []map[string]string{{"id": "applet-1"}, {"id": "applet-2"}}}
	})
	c := newTestClient(t, f)

	_, err := c.LookupApplet(context.Background(), &Project{ID: testProjectID}, "/applets", "x")
	require.ErrorIs(t, err, ErrInvariant)
}

func TestRunAppletSendsInstanceType(t *testing.T) {
	f := newFakeAPI()
	f.handle("/applet-1/run", func(body map[string]interface{}) (int, interface{}) {
		assert.Equal(t, testProjectID, body["project"])
		assert.Empty(t, body["input"])
		req := body["systemRequirements"].(map[string]interface{})["*"].(map[string]interface{})
		return 200, map[string]string{"id": "job-for-" + req["instanceType"].(string)}
	})
	c := newTestClient(t, f)

	job, err := c.RunApplet(context.Background(), Applet{ID: "applet-1"}, testProjectID, "mem1_ssd1_x4")
	require.NoError(t, err)
	assert.Equal(t, "job-for-mem1_ssd1_x4", job.ID)
}

func TestRunAppletRetryReusesNonce(t *testing.T) {
	f := newFakeAPI()
	var mu sync.Mutex
	var nonces []string
	jobs := map[string]string{}
	f.handle("/applet-1/run", func(body map[string]interface{}) (int, interface{}) {
		mu.Lock()
		defer mu.Unlock()
		nonce, _ := body["nonce"].(string)
		nonces = append(nonces, nonce)
		// the platform starts one job per nonce and replays it on repeats
		if _, ok := jobs[nonce]; !ok {
			jobs[nonce] = fmt.Sprintf("job-%d", len(jobs)+1)
		}
		if len(nonces) == 1 {
			return http.StatusBadGateway, map[string]string{}
		}
		return 200, map[string]string{"id": jobs[nonce]}
	})
	c := newTestClient(t, f)

	job, err := c.RunApplet(context.Background(), Applet{ID: "applet-1"}, testProjectID, "mem1_ssd1_x4")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	require.Len(t, nonces, 2)
	assert.NotEmpty(t, nonces[0])
	assert.Equal(t, nonces[0], nonces[1])
	assert.Len(t, jobs, 1)

	job, err = c.RunApplet(context.Background(), Applet{ID: "applet-1"}, testProjectID, "mem1_ssd1_x16")
	require.NoError(t, err)
	assert.Equal(t, "job-2", job.ID)
	assert.NotEqual(t, nonces[0], nonces[2])
}

func TestWaitJobPollsUntilTerminal(t *testing.T) {
	f := newFakeAPI()
	var n int32
	f.handle("/job-1/describe", func(map[string]interface{}) (int, interface{}) {
		state := "running"
		if atomic.AddInt32(&n, 1) >= 3 {
			state = "failed"
		}
		return 200, map[string]interface{}{"id": "job-1", "state": state}
	})
	c := newTestClient(t, f)

	state, err := c.WaitJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, api.JobFailed, state)
	assert.Equal(t, 3, f.count("/job-1/describe"))
}

func TestDescribeJobOutput(t *testing.T) {
	f := newFakeAPI()
	f.handle("/job-1/describe", func(map[string]interface{}) (int, interface{}) {
		return 200, map[string]interface{}{
			"id":                 "job-1",
			"state":              "done",
			"systemRequirements": map[string]interface{}{"*": map[string]string{"instanceType": "mem1_ssd1_x4"}},
			"output":             map[string]interface{}{"result": []string{"header", "f,0,1,0,2"}},
		}
	})
	c := newTestClient(t, f)

	desc, err := c.DescribeJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "mem1_ssd1_x4", desc.InstanceType())
	lines, err := desc.StringList("result")
	require.NoError(t, err)
	assert.Equal(t, []string{"header", "f,0,1,0,2"}, lines)

	_, err = desc.StringList("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetriesServerErrors(t *testing.T) {
	f := newFakeAPI()
	var n int32
	f.handle("/"+testProjectID+"/describe", func(body map[string]interface{}) (int, interface{}) {
		if atomic.AddInt32(&n, 1) < 3 {
			return 503, map[string]interface{}{"error": map[string]string{"type": "ServiceUnavailable"}}
		}
		return describeOK(body)
	})
	c := newTestClient(t, f)

	p, err := c.DescribeProject(context.Background(), testProjectID)
	require.NoError(t, err)
	assert.Equal(t, testProjectID, p.ID)
	assert.Equal(t, 3, f.count("/"+testProjectID+"/describe"))
}

func TestAPIErrorNotRetried(t *testing.T) {
	f := newFakeAPI()
	f.handle("/job-x/describe", func(map[string]interface{}) (int, interface{}) {
		return 401, map[string]interface{}{"error": map[string]string{"type": "InvalidAuthentication", "message": "bad token"}}
	})
	c := newTestClient(t, f)

	_, err := c.DescribeJob(context.Background(), "job-x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "InvalidAuthentication", apiErr.Type)
	assert.Equal(t, 1, f.count("/job-x/describe"))
}
