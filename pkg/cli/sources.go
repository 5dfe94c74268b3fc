package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"blog-monitor/pkg/store"
)

func newSourcesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source"},
		Short:   "Register and manage monitored blogs",
	}
	cmd.AddCommand(
		newSourcesListCommand(opts),
		newSourcesAddCommand(opts),
		newSourcesValidateCommand(opts),
		newSourcesConfirmCommand(opts),
		newSourcesRefineCommand(opts),
		newSourcesApplyCommand(opts),
	)
	return cmd
}

func newSourcesListCommand(opts *options) *cobra.Command {
	var usable bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(a *app) error {
				sources, err := a.store.ListSources(cmd.Context(), store.SourceFilter{UsableOnly: usable})
				if err != nil {
					return err
				}
				if len(sources) == 0 {
					fmt.Fprintln(opts.out, "No sources registered")
					return nil
				}
				renderSources(opts.out, sources)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&usable, "usable", false, "only usable sources")
	return cmd
}

func newSourcesAddCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add URL",
		Short: "Propose a new source from its listing page",
		Long: `Fetch the listing page, generate an extraction schema and try it.
The source stays unusable until it is confirmed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				p, err := a.lifecycle().Propose(cmd.Context(), args[0], opts.actor)
				if err != nil {
					return err
				}
				renderProposal(opts.out, p)
				return nil
			})
		},
	}
}

func newSourcesValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate ID",
		Short: "Re-run the current schema against the listing page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				p, err := a.lifecycle().Validate(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderProposal(opts.out, p)
				return nil
			})
		},
	}
}

func newSourcesConfirmCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm ID",
		Short: "Mark a validated source usable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(a *app) error {
				src, err := a.lifecycle().Confirm(cmd.Context(), id, opts.actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "Source %d (%s) is now %s\n", src.ID, src.URL, src.Health)
				return nil
			})
		},
	}
}

func newSourcesRefineCommand(opts *options) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "refine ID",
		Short: "Ask for a better schema for an unusable source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				p, err := a.lifecycle().Refine(cmd.Context(), id, opts.actor, feedback)
				if err != nil {
					return err
				}
				renderProposal(opts.out, p)
				fmt.Fprintf(opts.out, "Run `sources apply %d` to adopt the proposed schema\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what is wrong with the current results")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func newSourcesApplyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply ID",
		Short: "Adopt the proposed schema of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				p, err := a.lifecycle().ApplyRefinement(cmd.Context(), id, opts.actor)
				if err != nil {
					return err
				}
				renderProposal(opts.out, p)
				return nil
			})
		},
	}
}
