package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/callpilot/internal/domain"
)

func newAppointmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "appointment",
		Aliases: []string{"appt"},
		Short:   "Inspect appointments in the ledger",
	}

	cmd.AddCommand(newAppointmentShowCmd())
	cmd.AddCommand(newAppointmentHistoryCmd())
	return cmd
}

func newAppointmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversationId>",
		Short: "Show the booked appointment of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, s *stores) error {
				a, ok, err := s.ledger.LatestBooked(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "No booked appointment.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appointment %d\n  Name: %s\n  Date: %s\n  Time: %s\n  Booked: %s\n",
					a.ID, a.Name, a.Date, a.Time, a.CreatedAt.Local().Format(time.RFC1123))
				return nil
			})
		},
	}
}

func newAppointmentHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversationId>",
		Short: "List every appointment of a conversation, cancelled ones included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, s *stores) error {
				all, err := s.ledger.List(ctx, args[0])
				if err != nil {
					return err
				}
				if len(all) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No appointments.")
					return nil
				}
				return printAppointments(cmd.OutOrStdout(), all)
			})
		},
	}
}

func withStores(cmd *cobra.Command, fn func(ctx context.Context, s *stores) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func printAppointments(w io.Writer, all []domain.Appointment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tDATE\tTIME\tCREATED\tCANCELLED")
	for _, a := range all {
		cancelled := "-"
		if a.CancelledAt != nil {
			cancelled = a.CancelledAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Status, a.Name, a.Date, a.Time, a.CreatedAt.Local().Format(time.DateTime), cancelled)
	}
	return tw.Flush()
}
