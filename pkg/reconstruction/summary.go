package reconstruction

import (
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"buildingrecon/pkg/mesh"
)

// Status is the outcome of one cluster.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Stage names where a cluster failed.
const (
	StageMetadata = "metadata"
	StageInput    = "input"
	StageTool     = "tool"
	StageOutput   = "output"
)

// maxStderr bounds how much tool stderr is kept per cluster.
const maxStderr = 4096

// ClusterResult is the outcome of processing one cluster.
type ClusterResult struct {
	ClusterID string        `yaml:"cluster_id"`
	Status    Status        `yaml:"status"`
	Stage     string        `yaml:"stage,omitempty"`
	Error     string        `yaml:"error,omitempty"`
	Args      []string      `yaml:"args,omitempty"`
	ExitCode  int           `yaml:"exit_code"`
	Attempts  int           `yaml:"attempts"`
	Duration  time.Duration `yaml:"duration"`
	Stderr    string        `yaml:"stderr,omitempty"`
	Mesh      *mesh.Stats   `yaml:"mesh,omitempty"`

	// Err is the failure cause; it supports errors.Is against apperr values
	Err error `yaml:"-"`
}

func (c *ClusterResult) fail(stage string, err error) {
	c.Status = StatusFailed
	c.Stage = stage
	c.Err = err
	c.Error = err.Error()
}

func (c *ClusterResult) setStderr(b []byte) {
	if len(b) > maxStderr {
		b = b[len(b)-maxStderr:]
	}
	c.Stderr = string(b)
}

// Summary reports a whole pipeline run.
type Summary struct {
	RunID      string    `yaml:"run_id"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	DataDir    string    `yaml:"data_dir"`
	OutputDir  string    `yaml:"output_dir"`
	Weight     string    `yaml:"weight"`
	Algorithm  string    `yaml:"algorithm"`

	Clusters  int `yaml:"clusters"`
	Succeeded int `yaml:"succeeded"`
	Failed    int `yaml:"failed"`
	Skipped   int `yaml:"skipped"`

	// MeanToolSeconds is the mean wall time of the tool over clusters that ran it
	MeanToolSeconds float64 `yaml:"mean_tool_seconds"`

	Results []ClusterResult `yaml:"results"`
}

func newSummary(runID string, started time.Time, p *Params, results []ClusterResult) *Summary {
	s := &Summary{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		DataDir:    p.DataDir,
		OutputDir:  p.OutputDir,
		Weight:     p.Weight,
		Algorithm:  string(p.Algorithm),
		Clusters:   len(results),
		Results:    results,
	}

	var durations []float64
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
		if r.Attempts > 0 && r.Duration > 0 {
			durations = append(durations, r.Duration.Seconds())
		}
	}
	if len(durations) > 0 {
		s.MeanToolSeconds = stat.Mean(durations, nil)
	}

	return s
}

// Failures returns the results of clusters that failed.
func (s *Summary) Failures() []ClusterResult {
	var out []ClusterResult
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// OK reports whether every cluster succeeded.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Skipped == 0
}

// Write stores the summary as YAML.
func (s *Summary) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
