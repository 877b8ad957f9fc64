package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"buildingrecon/internal/apperr"
	"buildingrecon/pkg/config"
)

// Exit statuses.
const (
	exitError          = 1
	exitNotFound       = 2
	exitClustersFailed = 3
)

// errClustersFailed is returned by run when at least one cluster failed.
var errClustersFailed = errors.New("one or more clusters failed")

// loadConfig reads the config named by the root --config flag and installs
// the logger it describes as the default.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.Log))
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errClustersFailed):
		return exitClustersFailed
	case errors.Is(err, apperr.ErrNotFound):
		return exitNotFound
	default:
		return exitError
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "buildingrecon",
		Usage: "Repair slice sequences and reconstruct building meshes cluster by cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("BUILDINGRECON_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			repairCommand(),
			cropCommand(),
			plotCommand(),
			configCommand(),
		},
	}
}

func main() {
	err := newApp().Run(context.Background(), os.Args)
	if err != nil && !errors.Is(err, errClustersFailed) {
		slog.Error("application error", slog.String("error", err.Error()))
	}
	os.Exit(exitCode(err))
}
