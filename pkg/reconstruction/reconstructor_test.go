package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"buildingrecon/internal/apperr"
)

// fakeRunner records invocations and writes the outputs a real tool would
type fakeRunner struct {
	mu    sync.Mutex
	calls []Invocation

	// exitCodes maps a cluster's mesh file base name to an exit code
	exitCodes map[string]int

	// skipOutputs leaves the output files unwritten
	skipOutputs bool

	// startErrs are returned, in order, before any successful start
	startErrs []error
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation) (*ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, inv)
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		return nil, err
	}

	meshPath, topPath := inv.Args[7], inv.Args[8]
	if code := f.exitCodes[filepath.Base(meshPath)]; code != 0 {
		return &ToolResult{ExitCode: code, Stderr: []byte("No valid simplification is found."), Duration: time.Millisecond}, nil
	}
	if !f.skipOutputs {
		if err := os.WriteFile(meshPath, []byte("o b\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"), 0644); err != nil {
			return nil, err
		}
		if err := os.WriteFile(topPath, []byte("0 0\n1 0\n0 1\n"), 0644); err != nil {
			return nil, err
		}
	}
	return &ToolResult{Duration: 2 * time.Millisecond}, nil
}

func (f *fakeRunner) invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createCluster lays out one building cluster the way the site exports do
func createCluster(t *testing.T, dataDir, id, metadata string, withSlice bool) string {
	t.Helper()
	dir := filepath.Join(dataDir, "BuildingClusters", id)
	if err := os.MkdirAll(filepath.Join(dir, "Slices"), 0755); err != nil {
		t.Fatalf("Failed to create cluster dir: %v", err)
	}
	if metadata != "" {
		name := fmt.Sprintf("cluster_%s__metadata.json", id)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(metadata), 0644); err != nil {
			t.Fatalf("Failed to write metadata: %v", err)
		}
	}
	if withSlice {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		img.SetGray(4, 4, color.Gray{Y: 255})
		f, err := os.Create(filepath.Join(dir, "Slices", "slice_000000.png"))
		if err != nil {
			t.Fatalf("Failed to create slice: %v", err)
		}
		defer f.Close()
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("Failed to encode slice: %v", err)
		}
	}
	return dir
}

func newParams(dataDir, outDir string) *Params {
	return &Params{
		DataDir:   dataDir,
		Weight:    "0.5",
		Algorithm: "1",
		OutputDir: outDir,
		ToolPath:  "/opt/cgv/LEGO_NOGUI",
		ToolDir:   "/opt/cgv",
		Workers:   1,
	}
}

// TestProcessArgumentContract verifies the exact positional argument order
func TestProcessArgumentContract(t *testing.T) {
	dataDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	clusterDir := createCluster(t, dataDir, "017", `{"position": [10.5, -3.2], "voxel_size": 0.5}`, true)

	params := newParams(dataDir, outDir)
	params.Weight = "0.7"
	params.Algorithm = "2"

	runner := &fakeRunner{}
	summary, err := NewReconstructor(params, WithRunner(runner), WithLogger(quietLogger())).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	calls := runner.invocations()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 invocation, got %d", len(calls))
	}

	want := Invocation{
		Executable: "/opt/cgv/LEGO_NOGUI",
		Dir:        "/opt/cgv",
		Args: []string{
			filepath.Join(clusterDir, "Slices", "slice_000000.png"),
			"0.7",
			"2",
			"10.5",
			"-3.2",
			"0",
			"0.5",
			filepath.Join(outDir, "017_building.obj"),
			filepath.Join(outDir, "017_building.txt"),
		},
	}
	if diff := cmp.Diff(want, calls[0]); diff != "" {
		t.Errorf("Invocation mismatch (-want +got):\n%s", diff)
	}

	for _, arg := range []string{calls[0].Args[0], calls[0].Args[7], calls[0].Args[8]} {
		if !filepath.IsAbs(arg) {
			t.Errorf("Path argument %q must be absolute", arg)
		}
	}

	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Errorf("Unexpected summary counts: %+v", summary)
	}
	if summary.Results[0].Mesh == nil || summary.Results[0].Mesh.Faces != 1 {
		t.Errorf("Expected mesh stats to be read back, got %+v", summary.Results[0].Mesh)
	}
}

// TestProcessTwoClustersInOrder runs the two-cluster scenario end to end
func TestProcessTwoClustersInOrder(t *testing.T) {
	dataDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "nested", "out")
	createCluster(t, dataDir, "002", `{"position": [2, 2], "voxel_size": 1}`, true)
	createCluster(t, dataDir, "001", `{"position": [1, 1], "voxel_size": 1}`, true)

	runner := &fakeRunner{}
	summary, err := NewReconstructor(newParams(dataDir, outDir), WithRunner(runner), WithLogger(quietLogger())).
		Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if _, err := os.Stat(outDir); err != nil {
		t.Fatalf("Output dir was not created: %v", err)
	}

	calls := runner.invocations()
	if len(calls) != 2 {
		t.Fatalf("Expected exactly 2 invocations, got %d", len(calls))
	}
	for i, id := range []string{"001", "002"} {
		if got := filepath.Base(calls[i].Args[7]); got != id+"_building.obj" {
			t.Errorf("Call %d mesh = %s, want %s_building.obj", i, got, id)
		}
		if got := filepath.Base(calls[i].Args[8]); got != id+"_building.txt" {
			t.Errorf("Call %d top face = %s, want %s_building.txt", i, got, id)
		}
		if summary.Results[i].ClusterID != id {
			t.Errorf("Result %d is %s, want %s", i, summary.Results[i].ClusterID, id)
		}
	}
	if !summary.OK() {
		t.Errorf("Expected all clusters to succeed: %+v", summary)
	}
}

// TestProcessMissingDataDir verifies nothing happens when the site is missing
func TestProcessMissingDataDir(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	runner := &fakeRunner{}

	_, err := NewReconstructor(newParams(filepath.Join(t.TempDir(), "missing"), outDir),
		WithRunner(runner), WithLogger(quietLogger())).Process(context.Background())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Errorf("Output dir must not be created, stat err = %v", err)
	}
	if n := len(runner.invocations()); n != 0 {
		t.Errorf("Tool must not run, got %d invocations", n)
	}
}

// TestProcessKeepsExistingOutputs verifies the output dir is reused, not cleared
func TestProcessKeepsExistingOutputs(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	createCluster(t, dataDir, "001", `{"position": [0, 0], "voxel_size": 1}`, true)

	keep := filepath.Join(outDir, "previous_run.obj")
	if err := os.WriteFile(keep, []byte("v 0 0 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewReconstructor(newParams(dataDir, outDir), WithRunner(&fakeRunner{}), WithLogger(quietLogger())).
		Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("Existing output was removed: %v", err)
	}
}

// TestProcessIsolatesClusterFailures verifies that bad clusters do not stop the batch
func TestProcessIsolatesClusterFailures(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	// 001 lacks voxel_size, 002 has no slice, 003 fails in the tool, 005 has no metadata
	createCluster(t, dataDir, "001", `{"position": [1, 1]}`, true)
	createCluster(t, dataDir, "002", `{"position": [2, 2], "voxel_size": 1}`, false)
	createCluster(t, dataDir, "003", `{"position": [3, 3], "voxel_size": 1}`, true)
	createCluster(t, dataDir, "004", `{"position": [4, 4], "voxel_size": 1}`, true)
	createCluster(t, dataDir, "005", "", true)

	runner := &fakeRunner{exitCodes: map[string]int{"003_building.obj": 3}}
	summary, err := NewReconstructor(newParams(dataDir, outDir), WithRunner(runner), WithLogger(quietLogger())).
		Process(context.Background())
	if err != nil {
		t.Fatalf("Process should not fail as a whole: %v", err)
	}

	if summary.Succeeded != 1 || summary.Failed != 4 {
		t.Fatalf("Expected 1 succeeded / 4 failed, got %d / %d", summary.Succeeded, summary.Failed)
	}

	expect := []struct {
		stage string
		err   error
	}{
		{StageMetadata, apperr.ErrMetadata},
		{StageInput, apperr.ErrMissingSlice},
		{StageTool, apperr.ErrToolFailed},
		{"", nil},
		{StageMetadata, apperr.ErrMetadata},
	}
	for i, e := range expect {
		res := summary.Results[i]
		if res.Stage != e.stage {
			t.Errorf("%s: stage = %q, want %q", res.ClusterID, res.Stage, e.stage)
		}
		if e.err != nil && !errors.Is(res.Err, e.err) {
			t.Errorf("%s: err = %v, want %v", res.ClusterID, res.Err, e.err)
		}
	}

	failed := summary.Results[2]
	if failed.ExitCode != 3 || failed.Stderr == "" {
		t.Errorf("Tool failure should keep exit code and stderr: %+v", failed)
	}

	// only clusters with usable inputs reach the tool
	if n := len(runner.invocations()); n != 2 {
		t.Errorf("Expected 2 invocations, got %d", n)
	}
	if len(summary.Failures()) != 4 {
		t.Errorf("Failures() = %d, want 4", len(summary.Failures()))
	}
}

// TestProcessFailFast verifies the abort-on-metadata-error mode
func TestProcessFailFast(t *testing.T) {
	dataDir := t.TempDir()
	createCluster(t, dataDir, "001", `{"position": [1, 1], "voxel_size": 1}`, true)
	createCluster(t, dataDir, "002", `not json`, true)
	createCluster(t, dataDir, "003", `{"position": [3, 3], "voxel_size": 1}`, true)

	params := newParams(dataDir, t.TempDir())
	params.FailFast = true

	runner := &fakeRunner{}
	summary, err := NewReconstructor(params, WithRunner(runner), WithLogger(quietLogger())).Process(context.Background())
	if !errors.Is(err, apperr.ErrMetadata) {
		t.Fatalf("Expected metadata error, got %v", err)
	}
	if summary == nil {
		t.Fatal("Summary should still be returned")
	}
	if n := len(runner.invocations()); n != 1 {
		t.Errorf("Expected only the first cluster to run, got %d invocations", n)
	}
	if summary.Results[2].Status != StatusSkipped {
		t.Errorf("Cluster after the failure should be skipped, got %s", summary.Results[2].Status)
	}
}

// TestProcessMissingOutputs verifies a zero exit without outputs is a failure
func TestProcessMissingOutputs(t *testing.T) {
	dataDir := t.TempDir()
	createCluster(t, dataDir, "001", `{"position": [1, 1], "voxel_size": 1}`, true)

	summary, err := NewReconstructor(newParams(dataDir, t.TempDir()),
		WithRunner(&fakeRunner{skipOutputs: true}), WithLogger(quietLogger())).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !errors.Is(summary.Results[0].Err, apperr.ErrMissingOutput) {
		t.Errorf("Expected ErrMissingOutput, got %v", summary.Results[0].Err)
	}
}

// TestProcessRetriesTransientStartErrors verifies the retry policy
func TestProcessRetriesTransientStartErrors(t *testing.T) {
	dataDir := t.TempDir()
	createCluster(t, dataDir, "001", `{"position": [1, 1], "voxel_size": 1}`, true)
	createCluster(t, dataDir, "002", `{"position": [2, 2], "voxel_size": 1}`, true)

	busy := &os.PathError{Op: "fork/exec", Path: "/opt/cgv/LEGO_NOGUI", Err: syscall.ETXTBSY}
	missing := &os.PathError{Op: "fork/exec", Path: "/opt/cgv/LEGO_NOGUI", Err: syscall.ENOENT}

	params := newParams(dataDir, t.TempDir())
	params.ToolRetries = 2

	// cluster 001: two busy starts then success; cluster 002: permanent failure
	runner := &fakeRunner{startErrs: []error{busy, busy}}

	r := NewReconstructor(params, WithRunner(runner), WithLogger(quietLogger()), WithRetryInterval(time.Millisecond))
	summary, err := r.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got := summary.Results[0]; got.Status != StatusSucceeded || got.Attempts != 3 {
		t.Errorf("Cluster 001: status %s after %d attempts, want succeeded after 3", got.Status, got.Attempts)
	}

	runner = &fakeRunner{startErrs: []error{missing}}
	summary, err = NewReconstructor(params, WithRunner(runner), WithLogger(quietLogger()),
		WithRetryInterval(time.Millisecond)).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	first := summary.Results[0]
	if first.Status != StatusFailed || first.Attempts != 1 {
		t.Errorf("Permanent start error must not be retried: %+v", first)
	}
	if !errors.Is(first.Err, syscall.ENOENT) {
		t.Errorf("Start error should be kept in the chain, got %v", first.Err)
	}
	if summary.Results[1].Status != StatusSucceeded {
		t.Errorf("Next cluster should still run, got %s", summary.Results[1].Status)
	}
}

// TestProcessParallelWorkers verifies that a worker pool keeps per-cluster outputs distinct
func TestProcessParallelWorkers(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for i, id := range ids {
		createCluster(t, dataDir, id, fmt.Sprintf(`{"position": [%d, 0], "voxel_size": 1}`, i), true)
	}

	params := newParams(dataDir, outDir)
	params.Workers = 3

	runner := &fakeRunner{}
	summary, err := NewReconstructor(params, WithRunner(runner), WithLogger(quietLogger())).Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	seen := map[string]bool{}
	for _, inv := range runner.invocations() {
		if seen[inv.Args[7]] {
			t.Errorf("Duplicate output path %s", inv.Args[7])
		}
		seen[inv.Args[7]] = true
	}
	if len(seen) != len(ids) {
		t.Errorf("Expected %d distinct outputs, got %d", len(ids), len(seen))
	}
	for i, id := range ids {
		if summary.Results[i].ClusterID != id || summary.Results[i].Status != StatusSucceeded {
			t.Errorf("Result %d = %+v, want %s succeeded", i, summary.Results[i], id)
		}
	}
}

// TestProcessWritesSummary verifies the YAML run report
func TestProcessWritesSummary(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	createCluster(t, dataDir, "001", `{"position": [1, 1], "voxel_size": 1}`, true)

	params := newParams(dataDir, outDir)
	params.SummaryFile = "summary.yaml"

	summary, err := NewReconstructor(params, WithRunner(&fakeRunner{}), WithLogger(quietLogger())).
		Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "summary.yaml"))
	if err != nil {
		t.Fatalf("Summary file missing: %v", err)
	}
	var decoded struct {
		RunID     string `yaml:"run_id"`
		Succeeded int    `yaml:"succeeded"`
		Results   []struct {
			ClusterID string `yaml:"cluster_id"`
			Status    string `yaml:"status"`
		} `yaml:"results"`
	}
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Summary is not valid YAML: %v", err)
	}
	if decoded.RunID != summary.RunID || decoded.Succeeded != 1 {
		t.Errorf("Unexpected summary content: %+v", decoded)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Status != "succeeded" {
		t.Errorf("Unexpected results: %+v", decoded.Results)
	}
}

// TestProcessSkipsStrayFiles verifies that files next to cluster dirs are ignored
func TestProcessSkipsStrayFiles(t *testing.T) {
	dataDir := t.TempDir()
	createCluster(t, dataDir, "001", `{"position": [1, 1], "voxel_size": 1}`, true)
	if err := os.WriteFile(filepath.Join(dataDir, "BuildingClusters", "index.csv"), []byte("id\n001\n"), 0644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	summary, err := NewReconstructor(newParams(dataDir, t.TempDir()), WithRunner(runner), WithLogger(quietLogger())).
		Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if summary.Clusters != 1 {
		t.Errorf("Expected 1 cluster, got %d", summary.Clusters)
	}
}

// TestParamsValidate verifies required parameters
func TestParamsValidate(t *testing.T) {
	p := newParams("", "out")
	if err := p.Validate(); err == nil {
		t.Error("Expected error for empty data dir")
	}
	p = newParams("data", "out")
	if err := p.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
