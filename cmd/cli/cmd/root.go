package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"callspool/internal/spool"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "spoolctl",
	Short: "Spoolctl is a command line tool for managing the call dispatch spool",
	Long: `spoolctl is the command-line interface for the callspool dispatch engine.

The engine persists outbound call jobs as plain text files in a spool
directory tree with four bins: pending, active, archive and failed. The
spoold daemon watches the pending bin, places calls through an external
dialer, and moves jobs between bins according to the retry policy.

Common workflows:

  Enqueue a call:
    spoolctl enqueue --channel "GSM/2775551234" --application Playback --data welcome

  Enqueue a perpetually rescheduled call:
    spoolctl enqueue --channel "GSM/2775551234" --on-success requeue --retry-interval 1h

  Inspect the bins:
    spoolctl list
    spoolctl list failed

  Retry a dead-lettered job:
    spoolctl failed retry <job-id>

Configuration:
  Set the spool root via a flag, an environment variable or a config file:
    CALLSPOOL_ROOT    spool root directory (default: /var/spool/callspool)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".spoolctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".spoolctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CALLSPOOL_VARNAME"
	viper.SetEnvPrefix("CALLSPOOL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// openManager opens the spool named by the --root flag / CALLSPOOL_ROOT.
func openManager() (*spool.Manager, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return spool.NewManager(viper.GetString("root"), logger)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spoolctl.yaml)")

	rootCmd.PersistentFlags().String("root", "/var/spool/callspool", "Spool root directory")
	viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
}
