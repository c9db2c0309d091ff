package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"callspool/internal/spool"
)

var listCmd = &cobra.Command{
	Use:   "list [bin]",
	Short: "List jobs in a bin (default: pending)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bin := spool.BinPending
		if len(args) == 1 {
			var ok bool
			bin, ok = binByName(args[0])
			if !ok {
				cmd.Printf("Error: unknown bin %q (want pending, active, archive or failed)\n", args[0])
				return
			}
		}

		manager, err := openManager()
		if err != nil {
			cmd.Printf("Error opening spool: %v\n", err)
			return
		}

		ids, err := manager.ListIDs(bin)
		if err != nil {
			cmd.Printf("Error listing %s bin: %v\n", bin, err)
			return
		}

		if len(ids) == 0 {
			cmd.Printf("No jobs in %s bin.\n", bin)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tCHANNEL\tATTEMPTS\tNOT BEFORE\tON SUCCESS")
		for _, id := range ids {
			job, err := manager.Load(bin, id)
			if err != nil {
				fmt.Fprintf(w, "%s\t<undecodable>\t\t\t\n", id)
				continue
			}
			notBefore := ""
			if !job.NotBefore.IsZero() {
				notBefore = job.NotBefore.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
				job.ID,
				job.Channel,
				job.Attempts,
				job.MaxRetries,
				notBefore,
				job.OnSuccess,
			)
		}
		w.Flush()
	},
}

func binByName(name string) (spool.Bin, bool) {
	for _, bin := range spool.Bins {
		if string(bin) == name {
			return bin, true
		}
	}
	return "", false
}

func init() {
	rootCmd.AddCommand(listCmd)
}
