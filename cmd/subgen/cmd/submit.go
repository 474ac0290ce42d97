package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/subgen/pkg/controller"
	"github.com/psantana5/subgen/pkg/models"
)

var (
	// Submit flags
	submitFile     string
	submitURL      string
	submitDetach   bool
	submitDownload string
)

var errJobFailed = errors.New("job failed")

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a media file or YouTube URL",
	Long: `Uploads a media file, or sends a YouTube URL, to the subtitle service and
follows the resulting job until it completes or fails.

Exactly one of --file or --url is required.

Examples:
  subgen submit --file lecture.mp4
  subgen submit --url https://youtu.be/dQw4w9WgXcQ --download ./subs
  subgen submit --file talk.mkv --detach`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "media file to upload")
	submitCmd.Flags().StringVarP(&submitURL, "url", "u", "", "YouTube URL to transcribe")
	submitCmd.Flags().BoolVar(&submitDetach, "detach", false, "return once the job is accepted instead of following it")
	submitCmd.Flags().StringVar(&submitDownload, "download", "", "download the result into this directory when the job completes")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	in := models.Input{FilePath: submitFile, URL: submitURL}
	// Checked before anything is opened so bad input never reaches the network
	if err := in.Validate(); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stopLive := a.live(cmd)
	defer stopLive()

	if err := a.controller.Submit(a.ctx, in); err != nil {
		stopLive()
		if errors.Is(err, controller.ErrJobActive) {
			return fmt.Errorf("%w: run \"subgen reset\" first", err)
		}
		if a.controller.State().Status == models.StatusFail {
			a.printer.State(a.controller.State(), a.controller.Address())
		}
		return err
	}

	if submitDetach {
		stopLive()
		a.controller.Close()
		return a.printer.State(a.controller.State(), a.controller.Address())
	}

	return follow(cmd, a, submitDownload, stopLive)
}

// follow waits for the controller's job to finish, optionally downloads the
// result, and prints the final state
func follow(cmd *cobra.Command, a *app, downloadDir string, stopLive func()) error {
	st, err := a.controller.Wait(a.ctx)
	if err != nil {
		stopLive()
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Stopped following job %s. Resume with \"subgen watch\".\n", st.JobID)
		}
		return err
	}

	if st.Status == models.StatusSuccess && downloadDir != "" {
		if _, err := a.controller.Download(a.ctx, downloadDir); err != nil {
			stopLive()
			a.printer.State(a.controller.State(), a.controller.Address())
			return err
		}
		st = a.controller.State()
	}

	stopLive()
	if err := a.printer.State(st, a.controller.Address()); err != nil {
		return err
	}
	if st.Status == models.StatusFail {
		return errJobFailed
	}
	return nil
}
