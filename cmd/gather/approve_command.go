package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gather/internal/daemonctl"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve a pending media job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Approve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", resp.JobID, resp.Approval)
				return nil
			})
		},
	}
}
