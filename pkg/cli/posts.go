package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"blog-monitor/pkg/backfill"
)

func newPostsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "posts",
		Aliases: []string{"post"},
		Short:   "Inspect stored posts",
	}
	cmd.AddCommand(newPostsListCommand(opts), newPostsShowCommand(opts))
	return cmd
}

func newPostsListCommand(opts *options) *cobra.Command {
	var (
		sourceID int64
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently discovered posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(a *app) error {
				posts, err := a.store.ListPosts(cmd.Context(), sourceID, limit)
				if err != nil {
					return err
				}
				if len(posts) == 0 {
					fmt.Fprintln(opts.out, "No posts found")
					return nil
				}
				renderPosts(opts.out, posts)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&sourceID, "source", 0, "only posts of this source id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of posts")
	return cmd
}

func newPostsShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one post with its topics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(a *app) error {
				p, err := a.store.GetPost(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderPost(opts.out, p)
				return nil
			})
		},
	}
}

type backfillFlags struct {
	PostID       int64
	Hours        int
	FullTextOnly bool
	DryRun       bool
	Workers      int
	Limit        int
}

func (f backfillFlags) options(taskTimeout time.Duration) backfill.Options {
	return backfill.Options{
		PostID:       f.PostID,
		Within:       time.Duration(f.Hours) * time.Hour,
		FullTextOnly: f.FullTextOnly,
		DryRun:       f.DryRun,
		Workers:      f.Workers,
		TaskTimeout:  taskTimeout,
		Limit:        f.Limit,
	}
}

func newBackfillCommand(opts *options) *cobra.Command {
	var flags backfillFlags
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill missing summaries, reading times and topics of stored posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				sum, err := a.backfill().Run(cmd.Context(), flags.options(a.cfg.Ingest.TaskTimeout))
				if err != nil {
					return err
				}
				renderBackfill(opts.out, sum)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&flags.PostID, "post-id", 0, "backfill a single post")
	f.IntVar(&flags.Hours, "hours", 0, "only posts discovered within the last N hours")
	f.BoolVar(&flags.FullTextOnly, "full-text-only", false, "only posts missing their full text")
	f.BoolVar(&flags.DryRun, "dry-run", false, "report what would be filled without writing")
	f.IntVar(&flags.Workers, "workers", 4, "parallel workers")
	f.IntVar(&flags.Limit, "limit", 0, "maximum number of posts (0 for no limit)")
	return cmd
}
