package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/subgen/pkg/address"
	"github.com/psantana5/subgen/pkg/controller"
)

var watchDownload string

var watchCmd = &cobra.Command{
	Use:   "watch [job-id | link]",
	Short: "Resume following a job",
	Long: `Checks the status of a job every poll interval until it completes or fails,
without submitting anything.

With no argument the job remembered from the last submit is resumed. A job id
or a shared link (…?job_id=…) can be given instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchDownload, "download", "", "download the result into this directory when the job completes")
}

func runWatch(cmd *cobra.Command, args []string) error {
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
	return follow(cmd, a, watchDownload, stopLive)
}

// startWatching puts the controller into checking for the job named by args,
// or for the remembered job when args is empty
func startWatching(a *app, args []string) error {
	if len(args) == 1 {
		jobID, err := address.ParseJobID(args[0])
		if err != nil {
			return err
		}
		return a.controller.Watch(a.ctx, jobID)
	}

	ok, err := a.controller.Resume(a.ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pass a job id or link, or submit a new job", controller.ErrNoJob)
	}
	return nil
}
