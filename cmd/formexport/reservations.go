package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/formexport/internal/core"
)

func newReservationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reservations",
		Aliases: []string{"res"},
		Short:   "Inspect and release export reservations",
	}
	cmd.AddCommand(newReservationsListCmd(a))
	cmd.AddCommand(newReservationsShowCmd(a))
	cmd.AddCommand(newReservationsReleaseCmd(a))
	return cmd
}

func newReservationsListCmd(a *app) *cobra.Command {
	var (
		ready     string
		createdBy string
		fileID    string
		status    string
		olderThan time.Duration
		format    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := core.ReservationFilter{
				CreatedBy: createdBy,
				Status:    core.ReservationStatus(status),
			}
			switch ready {
			case "":
			case "true", "false":
				r := ready == "true"
				filter.Ready = &r
			default:
				return fmt.Errorf("invalid --ready: %s (valid values: true, false)", ready)
			}
			if fileID != "" {
				filter.FileID = &fileID
			}
			if olderThan > 0 {
				cutoff := time.Now().Add(-olderThan)
				filter.OlderThan = &cutoff
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, a.cfg)
			defer rt.Close()
			if err != nil {
				return err
			}

			rs, err := rt.service.ListReservations(ctx, filter)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return writeJSON(cmd.OutOrStdout(), rs)
			case "table":
				renderReservations(cmd.OutOrStdout(), rs)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&ready, "ready", "", "Filter by artifact availability: true or false")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Filter by owner")
	cmd.Flags().StringVar(&fileID, "file-id", "", "Filter by file id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, ready or failed")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only reservations created longer ago than this")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")

	return cmd
}

func newReservationsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, a.cfg)
			defer rt.Close()
			if err != nil {
				return err
			}

			r, err := rt.service.ReadReservation(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
}

func newReservationsReleaseCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Delete a reservation, its ledger rows and its stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			if !force {
				fmt.Fprintf(cmd.ErrOrStderr(), "Release reservation %s and delete its export file? (y/N) ", id)
				answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				if strings.TrimSpace(strings.ToLower(answer)) != "y" {
					fmt.Fprintln(cmd.OutOrStdout(), "Release cancelled")
					return nil
				}
			}

			ctx := core.ContextWithOwner(cmd.Context(), cliOwner())
			rt, err := openRuntime(ctx, a.cfg)
			defer rt.Close()
			if err != nil {
				return err
			}

			if err := rt.service.ReleaseReservation(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

// cliOwner names the operator in release events.
func cliOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderReservations(w io.Writer, rs []core.Reservation) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Status", "Ready", "File", "Created By", "Created", "Updated", "Error"})

	for _, r := range rs {
		t.AppendRow(table.Row{
			r.ID,
			r.Status,
			r.Ready,
			deref(r.FileID),
			r.CreatedBy,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			formatOptionalTime(r.UpdatedAt),
			truncate(deref(r.Error), 40),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(rs)})
	t.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
