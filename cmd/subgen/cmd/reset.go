package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the remembered job",
	Long: `Clears the remembered job so that "subgen watch" has nothing to resume and
a new submission can start. The job itself keeps running on the service and
stays in the history.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	previous, err := a.reflector.Load(a.ctx)
	if err != nil {
		return err
	}
	if err := a.controller.Reset(a.ctx); err != nil {
		return err
	}

	if previous == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No job to forget")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot job %s\n", previous)
	return nil
}
