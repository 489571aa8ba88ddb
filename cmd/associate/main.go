package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toricodesthings/compound-association-service/internal/app"
	"github.com/toricodesthings/compound-association-service/internal/config"
	"github.com/toricodesthings/compound-association-service/internal/logging"
)

var errNoneAssociated = errors.New("no document was associated")

type options struct {
	ConfigPath string
	File       string
	ListPath   string
	Manifest   string
	Range      string
	Workers    int
	Format     string
	OutputDir  string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "associate",
		Short: "Associate compound identifiers, structures, and activities in patent documents",
		Long: "associate runs activity extraction, name pairing, and structure-image recognition\n" +
			"over a page range of each document and writes the reconciled association table.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "", "YAML config file overlaid on the environment")
	f.StringVarP(&opts.File, "file", "f", "", "single document to process")
	f.StringVarP(&opts.ListPath, "list", "t", "", "text file with one \"<path> [range]\" per line")
	f.StringVarP(&opts.Manifest, "manifest", "m", "", "YAML manifest: jobs: [{path, range, format}]")
	f.StringVarP(&opts.Range, "range", "r", "", "page range, \"all\" or start:end (1-based, inclusive)")
	f.IntVarP(&opts.Workers, "workers", "n", 0, "documents processed concurrently (default from WORKERS)")
	f.StringVarP(&opts.Format, "output", "o", "", "output format: default, smi, sdf, xlsx")
	f.StringVar(&opts.OutputDir, "output-dir", "", "directory for written tables")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.LoadFile(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if opts.Format != "" {
		cfg.OutputFormat = opts.Format
	}
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, opts *options) error {
	if opts.File == "" && opts.ListPath == "" && opts.Manifest == "" {
		return errors.New("one of -f, -t or -m is required")
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	format, err := cfg.Format()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.NewLogger(logging.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logging.SetDefault(log)

	jobs, errs := jobSource{
		File:         opts.File,
		ListPath:     opts.ListPath,
		ManifestPath: opts.Manifest,
		Range:        opts.Range,
		Format:       format,
	}.build()
	for _, err := range errs {
		log.Error("job entry rejected", logging.Err(err))
	}
	if len(jobs) == 0 {
		return errors.New("no valid jobs")
	}

	a, err := app.New(cfg, nil, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close", logging.Err(err))
		}
	}()
	for _, w := range a.Warnings() {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := a.Fleet.Run(ctx, jobs)
	fmt.Fprintf(cmd.OutOrStdout(), "documents: %d  associated: %d  not associated: %d  failed: %d\n",
		summary.Done, summary.Associated, summary.NotAssociated, summary.Failed)
	if summary.Associated == 0 {
		return errNoneAssociated
	}
	return nil
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "associate:", err)
		os.Exit(1)
	}
}
