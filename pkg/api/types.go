package api

// v0 contains public types shared by the harness and its reports.

// PathLabel names the access path a file was read through.
type PathLabel string

const (
	PathMount    PathLabel = "mount"
	PathBaseline PathLabel = "baseline"
)

// Measurement is a single timed copy. Seconds is rounded to the nearest integer.
type Measurement struct {
	File    string    `json:"file" yaml:"file"`
	Path    PathLabel `json:"path" yaml:"path"`
	Seconds int64     `json:"seconds" yaml:"seconds"`
}

// ResultRow is one measured file reported by a remote benchmark job.
type ResultRow struct {
	InstanceType    string  `json:"instance_type" yaml:"instance_type"`
	File            string  `json:"file" yaml:"file"`
	BaselineSeconds float64 `json:"baseline_seconds" yaml:"baseline_seconds"`
	MountSeconds    float64 `json:"mount_seconds" yaml:"mount_seconds"`
}

// JobState is the remote lifecycle state of a job as reported by the platform.
type JobState string

const (
	JobIdle       JobState = "idle"
	JobRunnable   JobState = "runnable"
	JobRunning    JobState = "running"
	JobWaiting    JobState = "waiting_on_output"
	JobDone       JobState = "done"
	JobFailed     JobState = "failed"
	JobTerminated JobState = "terminated"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	switch s {
	case JobDone, JobFailed, JobTerminated:
		return true
	}
	return false
}

// Failed reports whether the state is terminal and unsuccessful.
func (s JobState) Failed() bool {
	return s == JobFailed || s == JobTerminated
}

// TestKind selects which remote applet is launched.
type TestKind string

const (
	TestBenchmark   TestKind = "benchmark"
	TestCorrectness TestKind = "correctness"
)
