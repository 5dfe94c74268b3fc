package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTicketsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tickets",
		Aliases: []string{"ticket"},
		Short:   "Open, resolve and list source tickets",
	}
	cmd.AddCommand(newTicketOpenCommand(opts), newTicketResolveCommand(opts), newTicketListCommand(opts))
	return cmd
}

func newTicketOpenCommand(opts *options) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "open SOURCE_ID",
		Short: "Report a problem with a source and take it out of rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(a *app) error {
				ticketID, err := a.lifecycle().OpenTicket(cmd.Context(), id, opts.actor, message)
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "Opened ticket %d for source %d\n", ticketID, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "description of the problem")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newTicketResolveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve TICKET_ID",
		Short: "Resolve an open ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(a *app) error {
				t, err := a.lifecycle().ResolveTicket(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "Resolved ticket %d for source %d\n", t.ID, t.SourceID)
				return nil
			})
		},
	}
}

func newTicketListCommand(opts *options) *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "list SOURCE_ID",
		Short: "List the tickets of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(a *app) error {
				tickets, err := a.store.ListTickets(cmd.Context(), id, open)
				if err != nil {
					return err
				}
				renderTickets(opts.out, tickets)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "only unresolved tickets")
	return cmd
}
