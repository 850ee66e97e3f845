package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shpitdev/vocab-enricher/internal/app"
	"github.com/shpitdev/vocab-enricher/internal/config"
	"github.com/shpitdev/vocab-enricher/internal/logging"
	"github.com/shpitdev/vocab-enricher/internal/version"
)

type runFlags struct {
	configPath string
	envFile    string
	output     string

	provider   string
	model      string
	prompt     string
	promptFile string
	strict     bool

	workers    int
	window     int
	maxRetries int
	timeout    time.Duration
	rateLimit  float64

	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "enricher",
		Short: "Enrich vocabulary records with an LLM, resumably",
		Long: `enricher sends each record of a JSON (or CSV) word list to a text-generation
backend, merges the fields the model adds and checkpoints the output after every record.

Interrupted runs resume where they stopped. Records the backend cannot enrich are kept
unchanged in the output.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.AddCommand(newRunCmd(), newStatusCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Enrich every record the checkpoint does not cover yet",
		Example: `  enricher run words.json
  enricher run words.json --prompt it-a1 --workers 4 --strict
  OPENROUTER_API_KEY=... enricher run words.csv --output enriched.json`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: f.configPath, DotEnv: f.envFile})
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), &f, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := app.CheckInput(args[0]); err != nil {
				return err
			}

			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return &config.ConfigError{Err: err}
			}
			defer func() { _ = log.Sync() }()

			sum, err := app.Run(cmd.Context(), app.RunParams{
				Input:  args[0],
				Output: f.output,
				Config: cfg,
				Logger: log,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"%s: %d/%d records (%d this run: %d ok, %d parse failures, %d request failures)\n",
				sum.OutputPath, sum.Resumed+sum.Processed(), sum.Total,
				sum.Processed(), sum.OK, sum.ParseFailures, sum.RequestFailures,
			)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "checkpoint/output file (default <input>_processed.json)")
	fl.StringVar(&f.configPath, "config", "", "YAML config file (env: ENRICHER_CONFIG)")
	fl.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fl.StringVar(&f.provider, "provider", "", "backend: openrouter, gemini or anthropic (env: ENRICHER_PROVIDER)")
	fl.StringVar(&f.model, "model", "", "model id, overrides the prompt variant's model (env: ENRICHER_MODEL)")
	fl.StringVarP(&f.prompt, "prompt", "p", "", "prompt variant name (env: ENRICHER_PROMPT)")
	fl.StringVar(&f.promptFile, "prompt-file", "", "YAML prompt catalog replacing the built-in one (env: ENRICHER_PROMPT_FILE)")
	fl.BoolVar(&f.strict, "strict", false, "treat responses missing required fields as parse failures (env: ENRICHER_VALIDATION=strict)")
	fl.IntVarP(&f.workers, "workers", "w", 0, "concurrent requests (env: ENRICHER_WORKERS)")
	fl.IntVar(&f.window, "window", 0, "max items dispatched beyond the last committed one (env: ENRICHER_WINDOW)")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "retries per record for transient failures (env: ENRICHER_MAX_RETRIES)")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-request timeout (env: ENRICHER_REQUEST_TIMEOUT)")
	fl.Float64Var(&f.rateLimit, "rate-limit", 0, "global requests per second, 0 disables (env: ENRICHER_RATE_LIMIT_RPS)")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env: LOG_LEVEL)")
	fl.StringVar(&f.logFormat, "log-format", "", "console or json (env: LOG_FORMAT)")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(fl *pflag.FlagSet, f *runFlags, cfg *config.Config) {
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("provider", func() { cfg.Provider = f.provider })
	set("model", func() { cfg.Generation.Model = f.model })
	set("prompt", func() { cfg.Prompt.Variant = f.prompt })
	set("prompt-file", func() { cfg.Prompt.File = f.promptFile })
	set("strict", func() {
		if f.strict {
			cfg.Prompt.Validation = "strict"
		} else {
			cfg.Prompt.Validation = "lenient"
		}
	})
	set("workers", func() { cfg.Pipeline.Workers = f.workers })
	set("window", func() { cfg.Pipeline.Window = f.window })
	set("max-retries", func() { cfg.Pipeline.MaxRetries = f.maxRetries })
	set("timeout", func() { cfg.Pipeline.RequestTimeout = f.timeout })
	set("rate-limit", func() { cfg.Pipeline.RateLimitRPS = f.rateLimit })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-format", func() { cfg.Log.Format = f.logFormat })
}

func newStatusCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status <input>",
		Short: "Show how far the checkpoint for an input has progressed",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.Status(args[0], output)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "input:     %s\n", p.Input)
			_, _ = fmt.Fprintf(w, "output:    %s\n", p.Output)
			_, _ = fmt.Fprintf(w, "total:     %d\n", p.Total)
			switch {
			case p.Corrupt:
				_, _ = fmt.Fprintln(w, "completed: checkpoint unreadable, a run starts over")
			case p.Overflow():
				_, _ = fmt.Fprintf(w, "completed: %d (checkpoint is longer than the input)\n", p.Completed)
			default:
				_, _ = fmt.Fprintf(w, "completed: %d\n", p.Completed)
			}
			_, _ = fmt.Fprintf(w, "remaining: %d\n", p.Remaining())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "checkpoint/output file (default <input>_processed.json)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enricher %s\n", version.Current)
		},
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
