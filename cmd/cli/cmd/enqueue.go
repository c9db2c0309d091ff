package cmd

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"callspool/internal/spool"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Drop a new call job into the pending bin",
	Long: `Create a new call job file in the pending bin. The spoold daemon picks
it up on its next wake-up.

Example:
  spoolctl enqueue --channel "GSM/2775551234" --application Playback --data welcome
  spoolctl enqueue --channel "GSM/2775551234" --max-retries 5 --retry-interval 2m --delay 30s
  spoolctl enqueue --channel "GSM/2775551234" --on-success requeue --retry-interval 1h`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		channel, _ := flags.GetString("channel")
		application, _ := flags.GetString("application")
		data, _ := flags.GetString("data")
		maxRetries, _ := flags.GetInt("max-retries")
		retryInterval, _ := flags.GetDuration("retry-interval")
		onSuccess, _ := flags.GetString("on-success")
		delay, _ := flags.GetDuration("delay")

		if channel == "" {
			cmd.Println("Error: --channel is required")
			return
		}

		var policy spool.SuccessPolicy
		switch onSuccess {
		case "archive":
			policy = spool.SuccessArchive
		case "requeue":
			policy = spool.SuccessRequeue
		default:
			cmd.Printf("Error: --on-success must be archive or requeue, got %q\n", onSuccess)
			return
		}

		manager, err := openManager()
		if err != nil {
			cmd.Printf("Error opening spool: %v\n", err)
			return
		}

		now := time.Now().UTC()
		job := &spool.Job{
			ID:            uuid.NewString(),
			Channel:       channel,
			Application:   application,
			Data:          data,
			CreatedAt:     now,
			MaxRetries:    maxRetries,
			RetryInterval: retryInterval,
			OnSuccess:     policy,
		}
		if delay > 0 {
			job.NotBefore = now.Add(delay)
		}

		if err := manager.Enqueue(job); err != nil {
			cmd.Printf("Error enqueueing job: %v\n", err)
			return
		}

		cmd.Printf("Job enqueued (ID: %s)\n", job.ID)
		if delay > 0 {
			cmd.Printf("   Eligible at: %s\n", job.NotBefore.Format(time.RFC3339))
		}
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().StringP("channel", "c", "", "Destination channel, e.g. GSM/2775551234 (required)")
	enqueueCmd.Flags().StringP("application", "a", "", "Application to run on answer")
	enqueueCmd.Flags().StringP("data", "d", "", "Application argument string")
	enqueueCmd.Flags().Int("max-retries", 3, "Maximum retry budget")
	enqueueCmd.Flags().Duration("retry-interval", 5*time.Minute, "Delay before the next attempt")
	enqueueCmd.Flags().String("on-success", "archive", "Disposition after a successful call: archive or requeue")
	enqueueCmd.Flags().Duration("delay", 0, "Delay before the job becomes eligible")
}
