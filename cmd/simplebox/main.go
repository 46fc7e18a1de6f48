package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/simplebox/pkg/api"
	"github.com/tendant/simplebox/pkg/config"
	"github.com/tendant/simplebox/pkg/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Box is what the commands operate on.
type Box struct {
	Store       storage.BlobStore
	Jobs        api.JobEnqueuer
	Credentials api.StatusReporter
}

// Opener builds a Box. Verbose openers log their progress to w.
type Opener func(ctx context.Context, w io.Writer, verbose bool) (*Box, error)

func main() {
	rootCmd := NewRootCommand(OpenFromEnv)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand(open Opener) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "simplebox",
		Short: "simplebox - scoped access to files and jobs",
		Long: `simplebox command line interface

Lists, uploads and deletes files in the configured bucket and sends jobs to
the configured queue. Each service is reached with credentials of its own
assumed role, configured through the same environment as the server.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewCredsCommand(open))
	rootCmd.AddCommand(NewListCommand(open))
	rootCmd.AddCommand(NewUploadCommand(open))
	rootCmd.AddCommand(NewDeleteCommand(open))
	rootCmd.AddCommand(NewURLCommand(open))
	rootCmd.AddCommand(NewEnqueueCommand(open))

	return rootCmd
}

// OpenFromEnv loads configuration from the environment and assumes every
// role before returning.
func OpenFromEnv(ctx context.Context, w io.Writer, verbose bool) (*Box, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("configuration loaded",
		"region", cfg.AWS.Region,
		"bucket", cfg.S3.Bucket,
		"queue_url", cfg.AWS.QueueURL,
	)

	assumer, err := cfg.NewSTSAssumer(ctx)
	if err != nil {
		return nil, err
	}

	services, err := cfg.BuildServices(ctx, assumer, logger, nil)
	if err != nil {
		return nil, err
	}

	return &Box{
		Store:       services.Store,
		Jobs:        services.Jobs,
		Credentials: services.Manager,
	}, nil
}

func openBox(cmd *cobra.Command, open Opener) (*Box, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	box, err := open(cmd.Context(), cmd.ErrOrStderr(), verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return box, nil
}
