// Package cli implements the blog-monitor command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blog-monitor/pkg/config"
	"blog-monitor/pkg/logging"
)

// options are the global flags and the state built from them.
type options struct {
	configFile string
	debug      bool
	actor      string

	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand(os.Stdout).ExecuteContext(context.Background())
}

// NewRootCommand builds the command tree writing tables to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{out: out}

	root := &cobra.Command{
		Use:           "blog-monitor",
		Short:         "Monitor blogs for new posts and enrich them",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if opts.debug {
				cfg.Logging.Level = "debug"
				cfg.Logging.Development = true
			}
			logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			if opts.actor == "" {
				opts.actor = defaultActor()
			}
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default $BLOG_MONITOR_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.actor, "actor", "", "name recorded as the modifier of sources (default current user)")

	root.AddCommand(
		newRunCommand(opts),
		newCheckCommand(opts),
		newSourcesCommand(opts),
		newTicketsCommand(opts),
		newPostsCommand(opts),
		newBackfillCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

// withStore runs fn against a store-only app.
func (o *options) withStore(ctx context.Context, fn func(a *app) error) error {
	if err := o.cfg.ValidateDatabase(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	a, err := openStore(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withApp runs fn against the fully wired app.
func (o *options) withApp(ctx context.Context, fn func(a *app) error) error {
	if err := o.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	a, err := openApp(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "cli"
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
