package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/roffe/canman/pkg/dbc"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "list the messages and signals of the DBC file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appCfg.DBC == "" {
			return fmt.Errorf("no DBC file, set --%s or dbc in the config", flagDBC)
		}
		db, err := dbc.Load(appCfg.DBC)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		name := color.New(color.FgGreen).SprintFunc()
		for _, msg := range db.Messages() {
			fmt.Fprintf(out, "0x%03X %s (%d bytes, from %s)\n", msg.ID, name(msg.Name), msg.Length, msg.Sender)
			for _, s := range msg.Signals {
				fmt.Fprintf(out, "    %-24s %s\n", s.Name, signalInfo(s))
			}
		}
		return nil
	},
}

func signalInfo(s *dbc.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d", s.Start, s.Length)
	if s.BigEndian {
		b.WriteString(" BE")
	}
	if s.Signed {
		b.WriteString(" signed")
	}
	fmt.Fprintf(&b, " (%g,%g) [%g|%g]", s.Scale, s.Offset, s.Min, s.Max)
	if s.Unit != "" {
		b.WriteString(" " + s.Unit)
	}
	if s.Multiplexer {
		b.WriteString(" mux")
	}
	if s.Multiplexed {
		fmt.Fprintf(&b, " m%d", s.MuxValue)
	}
	if labels := s.Labels(); len(labels) > 0 {
		b.WriteString(" {" + strings.Join(labels, ",") + "}")
	}
	return b.String()
}
