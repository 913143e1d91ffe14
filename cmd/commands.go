package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/transcript-collector/internal/config"
	"github.com/MimeLyc/transcript-collector/internal/service"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

type cliFlags struct {
	settings   string
	input      string
	checkpoint string
	maxItems   int
	workers    int
	fallback   bool
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "transcript-collector",
		Short: "Collect video transcripts into a resumable checkpoint",
		Long: `Collects the transcript of every item in the input, preferring manual
captions over auto-generated ones and optionally falling back to local
speech-to-text. Results are checkpointed, so an interrupted run resumes
where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.settings, "settings", "", "YAML settings file (default: $SETTINGS_FILE)")
	root.PersistentFlags().StringVarP(&flags.input, "input", "i", "", "input CSV or SQLite file (default: $INPUT_PATH)")
	root.PersistentFlags().StringVarP(&flags.checkpoint, "checkpoint", "c", "", "checkpoint CSV, SQLite file or postgres DSN (default: $CHECKPOINT_PATH)")

	run := newRunCmd(flags)
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(run, newScheduleCmd(flags), newStatsCmd(flags), newSearchCmd(flags))
	return root
}

// loadConfig reads env and settings file, then applies the flags that were set.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.settings, func(c *config.Config) {
		if flags.input != "" {
			c.Input.Path = flags.input
		}
		if flags.checkpoint != "" {
			c.Checkpoint.Path = flags.checkpoint
		}
		if f := cmd.Flags().Lookup("max-items"); f != nil && f.Changed {
			c.Pipeline.MaxItems = flags.maxItems
		}
		if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
			c.Pipeline.Workers = flags.workers
		}
		if f := cmd.Flags().Lookup("fallback"); f != nil && f.Changed {
			c.Fallback.Enabled = flags.fallback
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := initLogger(cfg.System); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger logs to stderr, or appends to LOG_FILE for the lifetime of the process.
func initLogger(sys config.SystemConfig) error {
	level := log.ParseLevel(sys.LogLevel)
	if sys.LogFile == "" {
		log.InitLogger(level)
		return nil
	}
	fl, err := log.NewFileLogger(sys.LogFile, level)
	if err != nil {
		return err
	}
	log.SetLogger(fl.Logger)
	return nil
}

func addRunFlags(cmd *cobra.Command, flags *cliFlags) {
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "process at most this many pending items (default: $MAX_ITEMS)")
	cmd.Flags().IntVar(&flags.workers, "workers", 1, "concurrent workers (default: $WORKERS)")
	cmd.Flags().BoolVar(&flags.fallback, "fallback", false, "transcribe items without captions locally (default: $ENABLE_FALLBACK)")
}

func newRunCmd(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every pending item once",
		Example: `  # Resume collecting with the settings from .env
  transcript-collector run

  # Try the first 50 pending items, with Whisper for items without captions
  transcript-collector run --max-items 50 --fallback -c transcripts.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			svc := service.New(*cfg)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				if err := svc.ServeStatus(ctx); err != nil {
					log.Error("Status server: %v", err)
				}
			}()

			summary, err := svc.RunOnce(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return err
		},
	}
	addRunFlags(cmd, flags)
	return cmd
}

func newScheduleCmd(flags *cliFlags) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run on the CRON_EXPR schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			svc := service.New(*cfg)
			if now {
				svc.Trigger(cmd.Context())
			}
			return runWithComponents(cmd.Context(), svc, cron.New(), svc)
		},
	}
	addRunFlags(cmd, flags)
	cmd.Flags().BoolVar(&now, "now", false, "also start a run right away")
	return cmd
}

type scheduler interface {
	Schedule(ctx context.Context, c service.Cron) error
}

type cronEngine interface {
	service.Cron
	Start()
	Stop() context.Context
}

type statusServer interface {
	ServeStatus(ctx context.Context) error
}

// runWithComponents schedules runs, serves status and blocks until ctx is done.
func runWithComponents(ctx context.Context, sched scheduler, engine cronEngine, status statusServer) error {
	if err := sched.Schedule(ctx, engine); err != nil {
		return err
	}
	engine.Start()
	defer func() {
		log.Info("Waiting for the active run to finish")
		<-engine.Stop().Done()
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- status.ServeStatus(ctx)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		<-ctx.Done()
	case <-ctx.Done():
		<-errc
	}
	return nil
}

func newStatsCmd(flags *cliFlags) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the checkpoint: totals, success ratio and top error kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			st, err := service.New(*cfg).Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), service.FormatStats(st, top))
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "number of error kinds to list, 0 for all")
	return cmd
}

func newSearchCmd(flags *cliFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [words...]",
		Short: "Search the collected transcripts",
		Example: `  # Matches "connected", "connecting" and "connection" alike
  transcript-collector search connection`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			start := time.Now()
			matches, err := service.New(*cfg).Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range matches {
				fmt.Fprintf(out, "%s\t%s/%s\t%d\t%s\n", m.ItemID, m.SourceKind, m.LanguageCode, m.Hits, m.Snippet)
			}
			log.Info("%d matches in %s", len(matches), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of matches, 0 for all")
	return cmd
}
