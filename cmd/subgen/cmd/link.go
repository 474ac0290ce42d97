package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link [job-id]",
	Short: "Print the shareable link of a job",
	Long: `Prints the address that carries the job id. Opening it in the web front end,
or passing it to "subgen watch", resumes the job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	jobID, err := jobIDFromArgs(a, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.reflector.Link(jobID))
	return nil
}
