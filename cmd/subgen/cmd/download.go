package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downloadDir string

var downloadCmd = &cobra.Command{
	Use:   "download [job-id | link]",
	Short: "Download the result of a finished job",
	Long: `Waits for the job to complete, if it has not already, and saves its result
into --dir. Free space is checked before writing, and the file only appears
once it has been received in full.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVarP(&downloadDir, "dir", "d", ".", "directory to save the result in")
}

func runDownload(cmd *cobra.Command, args []string) error {
	if downloadDir == "" {
		return fmt.Errorf("--dir must not be empty")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stopLive := a.live(cmd)
	defer stopLive()

	if err := startWatching(a, args); err != nil {
		return err
	}
	return follow(cmd, a, downloadDir, stopLive)
}
