package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/canman/pkg/manager"
	"github.com/spf13/cobra"
)

const flagWait = "wait"

func init() {
	statsCmd.Flags().DurationP(flagWait, "w", time.Second, "listen this long before reading the counters")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print adapter counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wait, _ := cmd.Flags().GetDuration(flagWait)

		m := newManager()
		bus, err := openBus(ctx, m)
		if err != nil {
			return err
		}
		defer bus.Close()

		deadline := time.Now().Add(wait)
		for time.Now().Before(deadline) && ctx.Err() == nil {
			if _, err := bus.Recv(time.Until(deadline)); err != nil {
				return &manager.StageError{Stage: manager.StageRecv, Err: err}
			}
		}

		st, err := m.BusStats(bus)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.String())
		return nil
	},
}
