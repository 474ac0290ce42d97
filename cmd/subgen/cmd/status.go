package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/psantana5/subgen/pkg/address"
)

var errNoActiveJob = errors.New("no active job")

var statusCmd = &cobra.Command{
	Use:   "status [job-id | link]",
	Short: "Query a job's status once",
	Long: `Asks the service for the current status of a job and prints it. Unlike
watch, it does not poll and does not change the remembered job.

With no argument the remembered job is queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	jobID, err := jobIDFromArgs(a, args)
	if err != nil {
		return err
	}

	resp, err := a.client.Status(a.ctx, jobID)
	if err != nil {
		return err
	}
	return a.printer.Status(resp, a.reflector.Link(jobID))
}

// jobIDFromArgs returns the job named on the command line, or the remembered one
func jobIDFromArgs(a *app, args []string) (string, error) {
	if len(args) == 1 {
		return address.ParseJobID(args[0])
	}
	jobID, err := a.reflector.Load(a.ctx)
	if err != nil {
		return "", err
	}
	if jobID == "" {
		return "", errNoActiveJob
	}
	return jobID, nil
}
