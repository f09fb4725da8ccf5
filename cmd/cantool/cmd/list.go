package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/canman"
	"github.com/roffe/canman/pkg/streamio"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list adapters, sinks and serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		color.New(color.Bold).Fprintln(out, "Adapters:")
		for _, a := range canman.ListAdapters() {
			fmt.Fprintf(out, "  %s\n    %s\n", a.String(), a.Capabilities.String())
		}

		color.New(color.Bold).Fprintln(out, "Sinks:")
		for _, s := range streamio.SinkTypes() {
			fmt.Fprintf(out, "  %s\n", s)
		}

		color.New(color.Bold).Fprintln(out, "Serial ports:")
		ports, err := listPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(out, "  none")
		}
		for _, p := range ports {
			fmt.Fprintf(out, "  %s\n", describePort(p))
		}
		return nil
	},
}
