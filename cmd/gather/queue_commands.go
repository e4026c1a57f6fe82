package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"gather/internal/api"
	"gather/internal/daemonctl"
	"gather/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the processing queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueActionCommand(ctx, "retry", "Re-enqueue a failed entry"))
	queueCmd.AddCommand(newQueueActionCommand(ctx, "pause", "Pause a waiting entry"))
	queueCmd.AddCommand(newQueueActionCommand(ctx, "resume", "Resume a paused entry"))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var eventID string
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				entries, err := client.QueueList(cmd.Context(), eventID, state)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(entry.ID, 10),
						entry.EventID,
						entry.Filename,
						entry.Uploader,
						entry.State,
						strconv.Itoa(entry.Attempts),
						entry.ErrorMessage,
					})
				}
				out := renderTable(
					[]string{"ID", "Event", "File", "Uploader", "State", "Attempts", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "Only entries for this event")
	cmd.Flags().StringVar(&state, "state", "", "Only entries in this state")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var eventID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				stats, err := client.QueueStats(cmd.Context(), eventID)
				if err != nil {
					return err
				}
				rows := buildStatsRows(*stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				out := renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "Only entries for this event")
	return cmd
}

func buildStatsRows(stats api.QueueStatsResponse) [][]string {
	if stats.Total == 0 {
		return nil
	}
	rows := make([][]string, 0, len(stats.Counts)+1)
	for _, state := range queue.AllStates() {
		count := stats.Counts[string(state)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(state), strconv.Itoa(count)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(stats.Total)})
	return rows
}

func newQueueActionCommand(ctx *commandContext, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <entry-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			return ctx.withClient(func(client *daemonctl.Client) error {
				var entry *api.QueueEntry
				switch action {
				case "retry":
					entry, err = client.Retry(cmd.Context(), entryID)
				case "pause":
					entry, err = client.Pause(cmd.Context(), entryID)
				case "resume":
					entry, err = client.Resume(cmd.Context(), entryID)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Entry %d is now %s\n", entry.ID, entry.State)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <entry-id>",
		Short: "Cancel an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			return ctx.withClient(func(client *daemonctl.Client) error {
				entry, err := client.Cancel(cmd.Context(), entryID, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Entry %d cancelled\n", entry.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the job")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove terminal entries past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				removed, err := client.ClearHistory(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
				return nil
			})
		},
	}
}
