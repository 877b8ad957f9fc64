package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"buildingrecon/internal/models"
	"buildingrecon/pkg/config"
	"buildingrecon/pkg/crop"
	"buildingrecon/pkg/reconstruction"
	"buildingrecon/pkg/records"
	"buildingrecon/pkg/sequence"
)

func banner(title string) {
	fmt.Println("================================")
	fmt.Println(title)
	fmt.Println("================================")
}

// requireArgs checks the positional argument count of cmd.
func requireArgs(cmd *cli.Command, lo, hi int) error {
	n := cmd.Args().Len()
	if n < lo || n > hi {
		return fmt.Errorf("%s: expected arguments %s", cmd.Name, cmd.ArgsUsage)
	}
	return nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run the reconstruction tool over every building cluster of a site",
		ArgsUsage: "<dataDir> <weight> <algorithm> <outputDir>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "Clusters processed at once (overrides pipeline.workers)"},
			&cli.BoolFlag{Name: "fail-fast", Usage: "Abort on the first unreadable cluster metadata"},
			&cli.StringFlag{Name: "tool", Usage: "Reconstruction executable (overrides tool.path)"},
			&cli.StringFlag{Name: "tool-dir", Usage: "Working directory of the tool (overrides tool.dir)"},
			&cli.DurationFlag{Name: "timeout", Usage: "Per-cluster tool timeout (overrides tool.timeout)"},
			&cli.StringFlag{Name: "summary", Usage: "Summary file name inside outputDir (overrides pipeline.summary_file)"},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if err := requireArgs(cmd, 4, 4); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	params := &reconstruction.Params{
		DataDir:     cmd.Args().Get(0),
		Weight:      cmd.Args().Get(1),
		Algorithm:   models.Algorithm(cmd.Args().Get(2)),
		OutputDir:   cmd.Args().Get(3),
		ToolPath:    cfg.Tool.Path,
		ToolDir:     cfg.Tool.Dir,
		ToolTimeout: cfg.Tool.Timeout,
		ToolRetries: cfg.Tool.Retries,
		Workers:     cfg.Pipeline.Workers,
		FailFast:    cfg.Pipeline.FailFast,
		SummaryFile: cfg.Pipeline.SummaryFile,
	}

	banner("BUILDING RECONSTRUCTION")
	fmt.Printf("Site data:  %s\n", params.DataDir)
	fmt.Printf("Output:     %s\n", params.OutputDir)
	fmt.Printf("Weight:     %s\n", params.Weight)
	fmt.Printf("Algorithm:  %s (%s)\n", params.Algorithm, params.Algorithm.Name())
	fmt.Printf("Workers:    %d\n\n", params.Workers)

	startTime := time.Now()
	summary, err := reconstruction.NewReconstructor(params, reconstruction.WithLogger(slog.Default())).Process(ctx)
	if summary == nil {
		return err
	}

	fmt.Printf("\nProcessed %d clusters in %.2f seconds\n", summary.Clusters, time.Since(startTime).Seconds())
	fmt.Printf("- Succeeded: %d\n", summary.Succeeded)
	fmt.Printf("- Failed:    %d\n", summary.Failed)
	fmt.Printf("- Skipped:   %d\n", summary.Skipped)
	if summary.Succeeded > 0 {
		fmt.Printf("- Mean tool time: %.2f seconds\n", summary.MeanToolSeconds)
	}
	for _, f := range summary.Failures() {
		fmt.Printf("  cluster %s failed at %s: %s\n", f.ClusterID, f.Stage, f.Error)
	}
	if params.SummaryFile != "" {
		fmt.Printf("Summary written to: %s\n", filepath.Join(params.OutputDir, params.SummaryFile))
	}

	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return errClustersFailed
	}
	return nil
}

func applyRunFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("workers") {
		cfg.Pipeline.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("fail-fast") {
		cfg.Pipeline.FailFast = cmd.Bool("fail-fast")
	}
	if cmd.IsSet("tool") {
		cfg.Tool.Path = cmd.String("tool")
	}
	if cmd.IsSet("tool-dir") {
		cfg.Tool.Dir = cmd.String("tool-dir")
	}
	if cmd.IsSet("timeout") {
		cfg.Tool.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("summary") {
		cfg.Pipeline.SummaryFile = cmd.String("summary")
	}
}

func repairCommand() *cli.Command {
	return &cli.Command{
		Name:      "repair",
		Usage:     "Fill gaps in a numbered slice sequence",
		ArgsUsage: "<imageDir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Only report the files that would be written"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Repair every sub-directory of imageDir"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Value: 1, Usage: "Directories repaired at once with --recursive"},
			&cli.IntFlag{Name: "width", Usage: "Zero-padding width of written names (overrides repair.index_width)"},
			&cli.StringFlag{Name: "format", Usage: "Image format of written slices (overrides repair.format)"},
		},
		Action: repairAction,
	}
}

func repairAction(ctx context.Context, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1, 1); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("width") {
		cfg.Repair.IndexWidth = int(cmd.Int("width"))
	}
	if cmd.IsSet("format") {
		cfg.Repair.Format = cmd.String("format")
	}
	if err := cfg.Repair.Validate(); err != nil {
		return fmt.Errorf("repair options: %w", err)
	}

	repairer := sequence.NewRepairer(
		sequence.WithIndexWidth(cfg.Repair.IndexWidth),
		sequence.WithFormat(cfg.Repair.Format),
		sequence.WithDryRun(cmd.Bool("dry-run")),
		sequence.WithLogger(slog.Default()),
	)

	dir := cmd.Args().Get(0)
	var reports []*sequence.Report
	if cmd.Bool("recursive") {
		reports, err = repairer.RepairAll(ctx, dir, int(cmd.Int("workers")))
	} else {
		var report *sequence.Report
		report, err = repairer.Repair(ctx, dir)
		reports = []*sequence.Report{report}
	}
	if err != nil {
		return err
	}

	for _, r := range reports {
		verb := "Filled"
		if r.DryRun {
			verb = "Would fill"
		}
		fmt.Printf("%s: %d slices present, %s %d\n", r.Dir, len(r.Present), verb, len(r.Fills))
		for _, f := range r.Fills {
			fmt.Printf("  %s <- index %d\n", f.Filename, f.Source)
		}
	}
	return nil
}

func cropCommand() *cli.Command {
	return &cli.Command{
		Name:      "crop",
		Usage:     "Crop every image of a directory to the same rectangle",
		ArgsUsage: "<imageDir> <x1> <y1> <x2> <y2> <outputDir>",
		Action:    cropAction,
	}
}

func cropAction(ctx context.Context, cmd *cli.Command) error {
	if err := requireArgs(cmd, 6, 6); err != nil {
		return err
	}
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	var coords [4]int
	for i := range coords {
		v, err := strconv.Atoi(cmd.Args().Get(i + 1))
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", cmd.Args().Get(i+1), err)
		}
		coords[i] = v
	}

	rect := image.Rect(coords[0], coords[1], coords[2], coords[3])
	n, err := crop.Crop(ctx, cmd.Args().Get(0), rect, cmd.Args().Get(5))
	if err != nil {
		return err
	}
	fmt.Printf("Cropped %d images to %v\n", n, rect)
	return nil
}

func plotCommand() *cli.Command {
	return &cli.Command{
		Name:      "plot",
		Usage:     "Chart error, shape count and algorithm distributions of a record file",
		ArgsUsage: "<recordFile> [outputDir]",
		Action:    plotAction,
	}
}

func plotAction(ctx context.Context, cmd *cli.Command) error {
	if err := requireArgs(cmd, 1, 2); err != nil {
		return err
	}
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	recs, err := records.ReadFile(cmd.Args().Get(0))
	if err != nil {
		return err
	}

	outputDir := cmd.Args().Get(1)
	if outputDir == "" {
		outputDir = "."
	}

	paths, err := records.Render(recs, outputDir)
	if err != nil {
		return err
	}

	counts, ignored := records.AlgorithmCounts(recs)
	fmt.Printf("%d records\n", len(recs))
	for _, c := range counts {
		fmt.Printf("- %-5s %d\n", c.Name, c.Count)
	}
	if ignored > 0 {
		fmt.Printf("- other %d\n", ignored)
	}
	for _, p := range paths {
		fmt.Printf("Chart written to: %s\n", p)
	}
	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write a configuration file with default values",
				ArgsUsage: "[path]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().Get(0)
					if path == "" {
						path = cmd.String("config")
					}
					if err := config.CreateDefaultConfigFile(path); err != nil {
						return err
					}
					fmt.Printf("Default configuration written to: %s\n", path)
					return nil
				},
			},
		},
	}
}
