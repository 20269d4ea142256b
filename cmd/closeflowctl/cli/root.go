package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/statement"
)

// ExitError carries a non-zero exit status out of a command.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func exit(code int) error {
	if code == ExitOK {
		return nil
	}
	return ExitError{Code: code}
}

// BackendFactory builds the backend client from the global flags.
type BackendFactory func(baseURL string, timeout time.Duration) Backend

// DefaultBackend dials the reporting backend over HTTP.
func DefaultBackend(baseURL string, timeout time.Duration) Backend {
	return backend.NewClient(baseURL, timeout,
		backend.WithStatementCategories(statement.DefaultCatalog().Keys()...))
}

type globals struct {
	backendURL string
	timeout    time.Duration
	jsonOutput bool
	redisAddr  string
}

// NewRootCommand assembles the closeflowctl command tree.
func NewRootCommand(newBackend BackendFactory, stdout, stderr io.Writer) *cobra.Command {
	if newBackend == nil {
		newBackend = DefaultBackend
	}
	g := &globals{}
	root := &cobra.Command{
		Use:           "closeflowctl",
		Short:         "Operator tooling for the close wizard",
		Long:          `closeflowctl inspects entities, periods, statement readiness, stored files and adjustment impact on the reporting backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&g.backendURL, "backend", envOr("BACKEND_URL", "http://127.0.0.1:8000"), "reporting backend base URL")
	flags.DurationVar(&g.timeout, "timeout", 30*time.Second, "backend request timeout")
	flags.BoolVar(&g.jsonOutput, "json", false, "print JSON")
	flags.StringVar(&g.redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address for job commands")

	ops := func() (*OpsCLI, error) {
		return NewOpsCLI(newBackend(g.backendURL, g.timeout), nil)
	}
	out := func(cmd *cobra.Command) Output {
		return Output{JSONOutput: g.jsonOutput, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
	}

	root.AddCommand(
		entitiesCmd(ops, out),
		periodsCmd(ops, out),
		readinessCmd(ops, out),
		filesCmd(ops, out),
		impactCmd(ops, out),
		jobsCmd(g),
	)
	return root
}

type opsFunc func() (*OpsCLI, error)
type outFunc func(*cobra.Command) Output

func entitiesCmd(ops opsFunc, out outFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := ops()
			if err != nil {
				return err
			}
			return exit(c.EntitiesCommand(cmd.Context(), EntitiesOptions{Output: out(cmd)}))
		},
	}
}

func periodsCmd(ops opsFunc, out outFunc) *cobra.Command {
	var opts PeriodsOptions
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "List periods and show the one a new session selects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := ops()
			if err != nil {
				return err
			}
			opts.Output = out(cmd)
			return exit(c.PeriodsCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "entity code")
	cmd.Flags().StringVar(&opts.Stored, "stored", "", "resolve as if this period key were persisted")
	return cmd
}

func readinessCmd(ops opsFunc, out outFunc) *cobra.Command {
	var opts ReadinessOptions
	cmd := &cobra.Command{
		Use:   "readiness <statement>",
		Short: "Check statement prerequisites (exit 10 when not ready)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ops()
			if err != nil {
				return err
			}
			opts.Statement = args[0]
			opts.Output = out(cmd)
			return exit(c.ReadinessCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "entity code")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "poll until ready")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 10*time.Second, "poll interval with --watch")
	cmd.Flags().DurationVar(&opts.Timeout, "wait", 10*time.Minute, "give up watching after this long")
	return cmd
}

func filesCmd(ops opsFunc, out outFunc) *cobra.Command {
	var opts FilesOptions
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List stored files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := ops()
			if err != nil {
				return err
			}
			opts.Output = out(cmd)
			return exit(c.FilesCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "entity code")
	cmd.Flags().StringVar(&opts.Category, "category", "", "only this category")
	return cmd
}

func impactCmd(ops opsFunc, out outFunc) *cobra.Command {
	var opts ImpactOptions
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Show adjustment impact by reporting category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := ops()
			if err != nil {
				return err
			}
			opts.Output = out(cmd)
			return exit(c.ImpactCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "entity code")
	cmd.Flags().StringVarP(&opts.Classification, "classification", "c", "", "filter by adjustment classification")
	cmd.Flags().BoolVar(&opts.CSV, "csv", false, "write CSV")
	return cmd
}

func jobsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}
	withJobs := func(run func(cmd *cobra.Command, c *JobsCLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			c, err := NewJobsCLI(g.redisAddr)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return run(cmd, c)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Queue a backend reachability probe",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI) error {
			id, err := c.Ping(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		}),
	})

	var job statement.Job
	generate := &cobra.Command{
		Use:   "generate <statement>",
		Short: "Queue a statement generation on the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.Statement = args[0]
			if _, err := statement.DefaultCatalog().Get(job.Statement); err != nil {
				return err
			}
			return withJobs(func(cmd *cobra.Command, c *JobsCLI) error {
				id, err := c.Generate(cmd.Context(), job)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			})(cmd, args)
		},
	}
	generate.Flags().StringVarP(&job.Entity, "entity", "e", "", "entity code")
	generate.Flags().StringVar(&job.PeriodLabel, "period", "", "period column label")
	generate.Flags().StringVar(&job.Currency, "currency", "", "reporting currency")
	generate.Flags().StringVar(&job.Scenario, "scenario", "", "scenario name")
	_ = generate.MarkFlagRequired("entity")
	_ = generate.MarkFlagRequired("period")
	_ = generate.MarkFlagRequired("currency")
	cmd.AddCommand(generate)

	cmd.AddCommand(&cobra.Command{
		Use:   "queue",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI) error {
			info, err := c.Queue()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "queue=%s size=%d pending=%d active=%d retry=%d archived=%d\n",
				info.Queue, info.Size, info.Pending, info.Active, info.Retry, info.Archived)
			return err
		}),
	})
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
