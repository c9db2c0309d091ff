package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"callspool/internal/spool"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [job_id]",
	Short: "Show a job's fields and attempt history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		manager, err := openManager()
		if err != nil {
			cmd.Printf("Error opening spool: %v\n", err)
			return
		}

		for _, bin := range spool.Bins {
			job, err := manager.Load(bin, jobID)
			if err != nil {
				continue
			}

			cmd.Printf("Job:            %s\n", job.ID)
			cmd.Printf("Bin:            %s\n", bin)
			cmd.Printf("Channel:        %s\n", job.Channel)
			if job.Application != "" {
				cmd.Printf("Application:    %s\n", job.Application)
			}
			if job.Data != "" {
				cmd.Printf("Data:           %s\n", job.Data)
			}
			cmd.Printf("Created:        %s\n", job.CreatedAt.Format(time.RFC3339))
			if !job.NotBefore.IsZero() {
				cmd.Printf("Not before:     %s\n", job.NotBefore.Format(time.RFC3339))
			}
			cmd.Printf("Attempts:       %d/%d\n", job.Attempts, job.MaxRetries)
			cmd.Printf("Retry interval: %s\n", job.RetryInterval)
			cmd.Printf("On success:     %s\n", job.OnSuccess)
			if len(job.History) > 0 {
				cmd.Println("History:")
				for _, note := range job.History {
					cmd.Printf("  %s\n", note)
				}
			}
			return
		}

		cmd.Printf("Job %s not found in any bin.\n", jobID)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
