package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"buildingrecon/internal/apperr"
	"buildingrecon/internal/models"
	"buildingrecon/pkg/cluster"
	"buildingrecon/pkg/mesh"
)

// Params holds the parameters of one pipeline run.
type Params struct {
	// DataDir is the site data directory holding BuildingClusters/.
	// It must exist before anything else happens.
	DataDir string

	// Weight is forwarded to the tool verbatim (0 - 1).
	Weight string

	// Algorithm is forwarded to the tool verbatim.
	Algorithm models.Algorithm

	// OutputDir receives <id>_building.obj and <id>_building.txt per cluster.
	// It is created when missing and never cleared.
	OutputDir string

	// ToolPath is the reconstruction executable. Relative paths are
	// resolved against the caller's working directory.
	ToolPath string

	// ToolDir is the working directory of the tool process.
	ToolDir string

	// ToolTimeout bounds each invocation; zero means no limit.
	ToolTimeout time.Duration

	// ToolRetries is how many times a transient start failure is retried.
	ToolRetries int

	// Workers is how many clusters run at once. 1 keeps the run sequential.
	Workers int

	// FailFast aborts the run on the first metadata error instead of
	// recording it and moving on to the next cluster.
	FailFast bool

	// SummaryFile is written into OutputDir when set.
	SummaryFile string
}

// Validate validates the parameters.
func (p *Params) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.DataDir, validation.Required),
		validation.Field(&p.OutputDir, validation.Required),
		validation.Field(&p.ToolPath, validation.Required),
		validation.Field(&p.ToolDir, validation.Required),
		validation.Field(&p.ToolRetries, validation.Min(0)),
		validation.Field(&p.Workers, validation.Min(0)),
	)
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithRunner replaces the process runner.
func WithRunner(runner Runner) Option {
	return func(r *Reconstructor) {
		r.runner = runner
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconstructor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetryInterval sets the first backoff interval between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Reconstructor) {
		r.retryInterval = d
	}
}

// Reconstructor drives the external reconstruction tool over every building
// cluster of a site.
//
// For each cluster it:
// 1. Reads cluster_<id>__metadata.json for the plane position and voxel size
// 2. Resolves the first slice (Slices/slice_000000.png) and the output paths
// 3. Runs the tool once with the nine positional arguments
// 4. Checks the exit status and that both output files were written
//
// Clusters are independent. A failing cluster is recorded in the Summary and
// the run moves on, except for metadata errors under FailFast.
type Reconstructor struct {
	params        *Params
	runner        Runner
	logger        *slog.Logger
	retryInterval time.Duration
}

// NewReconstructor creates a new reconstructor with the provided parameters.
func NewReconstructor(params *Params, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		params:        params,
		logger:        slog.Default(),
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runner == nil {
		r.runner = &ExecRunner{Logger: r.logger}
	}
	return r
}

// toolPaths holds the absolute locations resolved once per run.
type toolPaths struct {
	exe       string
	dir       string
	outputDir string
}

// Process runs the complete pipeline and returns one result per cluster.
//
// A missing DataDir fails before the output directory is created or the
// tool is run. The returned error is non-nil only when the run could not
// proceed as a whole; per-cluster failures live in the Summary.
func (r *Reconstructor) Process(ctx context.Context) (*Summary, error) {
	p := r.params
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	runID := uuid.NewString()
	started := time.Now()
	logger := r.logger.With(slog.String("run_id", runID))

	info, err := os.Stat(p.DataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: directory %s", apperr.ErrNotFound, p.DataDir)
		}
		return nil, fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", apperr.ErrNotFound, p.DataDir)
	}

	outputDir, err := filepath.Abs(p.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	exe, toolDir, err := resolveTool(p.ToolPath, p.ToolDir)
	if err != nil {
		return nil, err
	}
	paths := toolPaths{exe: exe, dir: toolDir, outputDir: outputDir}

	clusters, err := cluster.Discover(p.DataDir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	logger.Info("reconstruction started",
		slog.String("data_dir", p.DataDir),
		slog.String("output_dir", outputDir),
		slog.Int("clusters", len(clusters)),
		slog.String("weight", p.Weight),
		slog.String("algorithm", string(p.Algorithm)),
		slog.String("algorithm_name", p.Algorithm.Name()))

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]ClusterResult, len(clusters))
	for i, c := range clusters {
		results[i] = ClusterResult{ClusterID: c.ID, Status: StatusSkipped}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range clusters {
		if gCtx.Err() != nil {
			break
		}
		i, c := i, c
		g.Go(func() error {
			res, err := r.processCluster(gCtx, logger, c, paths)
			results[i] = res
			return err
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	summary := newSummary(runID, started, p, results)

	if p.SummaryFile != "" {
		path := filepath.Join(outputDir, p.SummaryFile)
		if err := summary.Write(path); err != nil {
			logger.Warn("failed to write summary", slog.String("error", err.Error()))
		}
	}

	logger.Info("reconstruction finished",
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("elapsed", summary.FinishedAt.Sub(started)))

	return summary, runErr
}

// processCluster runs one cluster. The error return is reserved for
// failures that must stop the whole run.
func (r *Reconstructor) processCluster(ctx context.Context, logger *slog.Logger, c models.Cluster, paths toolPaths) (ClusterResult, error) {
	res := ClusterResult{ClusterID: c.ID, Status: StatusSkipped}
	if ctx.Err() != nil {
		return res, nil
	}
	logger = logger.With(slog.String("cluster", c.ID))

	meta, err := cluster.ReadMetadata(c.Path, c.ID)
	if err != nil {
		res.fail(StageMetadata, err)
		logger.Error("cluster metadata unreadable", slog.String("error", err.Error()))
		if r.params.FailFast {
			return res, fmt.Errorf("cluster %s: %w", c.ID, err)
		}
		return res, nil
	}

	input := cluster.FirstSlicePath(c)
	if _, err := os.Stat(input); err != nil {
		res.fail(StageInput, fmt.Errorf("%w: %s", apperr.ErrMissingSlice, input))
		logger.Error("first slice missing", slog.String("path", input))
		return res, nil
	}

	job := models.NewJob(c, meta, input,
		filepath.Join(paths.outputDir, c.ID+"_building.obj"),
		filepath.Join(paths.outputDir, c.ID+"_building.txt"),
		r.params.Weight, r.params.Algorithm)

	inv := Invocation{Executable: paths.exe, Dir: paths.dir, Args: job.Args()}
	res.Args = inv.Args

	runCtx := ctx
	if r.params.ToolTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.params.ToolTimeout)
		defer cancel()
	}

	out, attempts, err := r.runWithRetry(runCtx, inv)
	res.Attempts = attempts
	if out != nil {
		res.ExitCode = out.ExitCode
		res.Duration = out.Duration
		res.setStderr(out.Stderr)
	}
	if err != nil {
		res.fail(StageTool, fmt.Errorf("%w: %w", apperr.ErrToolFailed, err))
		logger.Error("tool did not complete", slog.String("error", err.Error()), slog.Int("attempts", attempts))
		return res, nil
	}
	if out.ExitCode != 0 {
		res.fail(StageTool, fmt.Errorf("%w: exit status %d", apperr.ErrToolFailed, out.ExitCode))
		logger.Error("tool failed", slog.Int("exit_code", out.ExitCode), slog.String("stderr", res.Stderr))
		return res, nil
	}

	for _, path := range []string{job.OutputMesh, job.OutputTopFace} {
		if _, err := os.Stat(path); err != nil {
			res.fail(StageOutput, fmt.Errorf("%w: %s", apperr.ErrMissingOutput, filepath.Base(path)))
			logger.Error("tool output missing", slog.String("path", path))
			return res, nil
		}
	}

	if stats, err := mesh.ReadStats(job.OutputMesh); err != nil {
		logger.Warn("could not read mesh stats", slog.String("error", err.Error()))
	} else {
		res.Mesh = &stats
	}

	res.Status = StatusSucceeded
	logger.Info("cluster reconstructed",
		slog.Duration("duration", res.Duration),
		slog.String("mesh", job.OutputMesh))

	return res, nil
}

// runWithRetry runs inv, retrying only transient start failures.
// Non-zero exits are results, not errors, and are never retried.
func (r *Reconstructor) runWithRetry(ctx context.Context, inv Invocation) (*ToolResult, int, error) {
	var (
		result   *ToolResult
		attempts int
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInterval

	retries := r.params.ToolRetries
	if retries < 0 {
		retries = 0
	}

	op := func() error {
		attempts++
		out, err := r.runner.Run(ctx, inv)
		if out != nil {
			result = out
		}
		if err != nil {
			if isTransient(err) {
				r.logger.Warn("transient tool start failure, retrying",
					slog.Int("attempt", attempts), slog.String("error", err.Error()))
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	return result, attempts, err
}
