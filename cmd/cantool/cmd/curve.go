package cmd

import (
	"fmt"
	"strconv"

	"github.com/roffe/canman/pkg/curve"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(curveCmd)
}

var curveCmd = &cobra.Command{
	Use:   "curve <key> [x ...]",
	Short: "print a curve from the config file, or look up y for each x",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := curve.FromConfig(loader, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			for _, p := range c.Points {
				fmt.Fprintln(out, p.String())
			}
			return nil
		}
		for _, arg := range args[1:] {
			x, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("bad x %q: %w", arg, err)
			}
			y, err := c.Interpolate(x)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%g %g\n", x, y)
		}
		return nil
	},
}
