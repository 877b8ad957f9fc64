// Package sequence turns a sparse, gap-numbered directory of slice images
// into a dense sequence that a slice-based reconstruction tool can read.
//
// Gaps are filled forward from the next available frame: every missing
// index between two present indices receives a copy of the image at the
// later index, never the earlier one. Switching to the previous frame
// changes what the reconstruction tool produces, so the policy is fixed.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"buildingrecon/internal/apperr"
	"buildingrecon/internal/models"
	"buildingrecon/pkg/imageio"
)

// firstIndex is where a repaired sequence starts.
const firstIndex = 1

// Option configures a Repairer.
type Option func(*Repairer)

// WithIndexWidth sets the zero-padding width of written names.
func WithIndexWidth(width int) Option {
	return func(r *Repairer) {
		if width > 0 {
			r.width = width
		}
	}
}

// WithFormat sets the image format of written slices ("png", "jpg", ...).
func WithFormat(format string) Option {
	return func(r *Repairer) {
		if format != "" {
			r.format = strings.TrimPrefix(format, ".")
		}
	}
}

// WithDryRun makes Repair plan the fills without writing anything.
func WithDryRun(dryRun bool) Option {
	return func(r *Repairer) {
		r.dryRun = dryRun
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repairer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Repairer fills index gaps in slice directories.
// A single directory must not be repaired by two Repairers at once.
type Repairer struct {
	width  int
	format string
	dryRun bool
	logger *slog.Logger
}

// NewRepairer creates a Repairer writing PNG files with 3-digit indices by default.
func NewRepairer(opts ...Option) *Repairer {
	r := &Repairer{
		width:  models.DefaultIndexWidth,
		format: "png",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report describes one repair pass over a directory.
type Report struct {
	Dir     string
	Prefix  string
	Present []int
	Fills   []models.Fill
	DryRun  bool
}

// PlanFills returns the fills for a set of present indices, which must be
// sorted ascending and unique. Filenames are left empty.
func PlanFills(present []int) []models.Fill {
	var fills []models.Fill
	next := firstIndex
	for _, id := range present {
		for i := next; i < id; i++ {
			fills = append(fills, models.Fill{Index: i, Source: id})
		}
		next = id + 1
	}
	return fills
}

// Repair scans dir and writes a copy of the next available frame under every
// missing index. Files present before the call are never modified.
// A single unparsable file name aborts the pass before anything is written.
func (r *Repairer) Repair(ctx context.Context, dir string) (*Report, error) {
	entries, err := scan(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{Dir: dir, DryRun: r.dryRun}
	if len(entries) == 0 {
		r.logger.Info("no slices to repair", slog.String("dir", dir))
		return report, nil
	}

	report.Prefix = entries[0].Key.Prefix
	bySource := make(map[int]models.SliceEntry, len(entries))
	for _, e := range entries {
		report.Present = append(report.Present, e.Key.Index)
		bySource[e.Key.Index] = e
	}

	report.Fills = PlanFills(report.Present)
	for i := range report.Fills {
		key := models.SliceKey{Prefix: report.Prefix, Index: report.Fills[i].Index}
		report.Fills[i].Filename = key.CanonicalName(r.width, r.format)
	}

	if r.dryRun {
		r.logger.Info("repair planned",
			slog.String("dir", dir),
			slog.Int("present", len(report.Present)),
			slog.Int("fills", len(report.Fills)))
		return report, nil
	}

	var (
		srcIndex = -1
		srcImage image.Image
	)
	for _, fill := range report.Fills {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if fill.Source != srcIndex {
			src := bySource[fill.Source]
			img, err := imageio.Load(filepath.Join(dir, src.Filename))
			if err != nil {
				return report, fmt.Errorf("load %s: %w", src.Filename, err)
			}
			srcIndex, srcImage = fill.Source, img
		}

		if err := imageio.SaveNew(filepath.Join(dir, fill.Filename), imageio.Clone(srcImage)); err != nil {
			return report, fmt.Errorf("write %s: %w", fill.Filename, err)
		}
		r.logger.Debug("filled slice gap",
			slog.String("file", fill.Filename),
			slog.Int("source_index", fill.Source))
	}

	r.logger.Info("repair complete",
		slog.String("dir", dir),
		slog.String("prefix", report.Prefix),
		slog.Int("present", len(report.Present)),
		slog.Int("filled", len(report.Fills)))

	return report, nil
}

// RepairAll repairs every immediate subdirectory of root, each one holding
// the slices of one object. Directories are processed concurrently, at most
// workers at a time, but every directory is handled by one goroutine only.
// Reports are returned in lexical order of directory name.
func (r *Repairer) RepairAll(ctx context.Context, root string, workers int) ([]*Report, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, root)
		}
		return nil, err
	}

	var dirs []string
	for _, d := range dirEntries {
		if d.IsDir() {
			dirs = append(dirs, filepath.Join(root, d.Name()))
		}
	}

	if workers < 1 {
		workers = 1
	}

	reports := make([]*Report, len(dirs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			report, err := r.Repair(gCtx, dir)
			if err != nil {
				return fmt.Errorf("repair %s: %w", filepath.Base(dir), err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return reports, nil
}

// scan lists and parses the slice files of dir, sorted by integer index.
func scan(dir string) ([]models.SliceEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, dir)
		}
		return nil, err
	}

	var entries []models.SliceEntry
	for _, d := range dirEntries {
		if d.IsDir() {
			continue
		}
		entry, err := ParseName(d.Name())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Index < entries[j].Key.Index
	})

	for i := 1; i < len(entries); i++ {
		if entries[i].Key.Prefix != entries[0].Key.Prefix {
			return nil, fmt.Errorf("%w: %q and %q in %s",
				apperr.ErrMixedPrefix, entries[0].Key.Prefix, entries[i].Key.Prefix, dir)
		}
		if entries[i].Key.Index == entries[i-1].Key.Index {
			return nil, fmt.Errorf("%w: %q and %q",
				apperr.ErrDuplicateIndex, entries[i-1].Filename, entries[i].Filename)
		}
	}

	return entries, nil
}
