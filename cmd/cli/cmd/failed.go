package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"callspool/internal/spool"
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Manage the failed bin",
	Long:  `Inspect and retry jobs that exhausted their retry budget, hit a permanent failure, or could not be decoded.`,
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the failed bin",
	Run: func(cmd *cobra.Command, args []string) {
		manager, err := openManager()
		if err != nil {
			cmd.Printf("Error opening spool: %v\n", err)
			return
		}

		ids, err := manager.ListIDs(spool.BinFailed)
		if err != nil {
			cmd.Printf("Error listing failed bin: %v\n", err)
			return
		}

		if len(ids) == 0 {
			cmd.Println("No jobs in failed bin.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tCHANNEL\tATTEMPTS\tLAST NOTE")
		for _, id := range ids {
			job, err := manager.Load(spool.BinFailed, id)
			if err != nil {
				fmt.Fprintf(w, "%s\t<undecodable>\t\t\n", id)
				continue
			}
			lastNote := ""
			if len(job.History) > 0 {
				lastNote = job.History[len(job.History)-1]
				// Truncate long notes for the table view
				if len(lastNote) > 60 {
					lastNote = lastNote[:57] + "..."
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
				job.ID,
				job.Channel,
				job.Attempts,
				job.MaxRetries,
				lastNote,
			)
		}
		w.Flush()
	},
}

var failedRetryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Move a failed job back to pending with its attempt counter reset",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		manager, err := openManager()
		if err != nil {
			cmd.Printf("Error opening spool: %v\n", err)
			return
		}

		job, err := manager.Replay(jobID, time.Now())
		if err != nil {
			cmd.Printf("Error retrying job: %v\n", err)
			return
		}

		cmd.Printf("Job %s moved back to pending.\n", job.ID)
	},
}

func init() {
	rootCmd.AddCommand(failedCmd)
	failedCmd.AddCommand(failedListCmd)
	failedCmd.AddCommand(failedRetryCmd)
}
