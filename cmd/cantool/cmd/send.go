package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roffe/canman/pkg/dbc"
	"github.com/spf13/cobra"
)

const (
	flagRepeat   = "repeat"
	flagInterval = "interval"
)

func init() {
	sendCmd.Flags().IntP(flagRepeat, "n", 1, "times to send the message")
	sendCmd.Flags().DurationP(flagInterval, "i", 100*time.Millisecond, "pause between repeats")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <message> [signal=value ...]",
	Short: "encode and send a message",
	Long: `Encode the named DBC message and send it as an extended frame.

Values may be numbers, true/false or value description labels:

  cantool send Engine Rpm=3000 Temp=90 Running=true Gear=D`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		repeat, _ := cmd.Flags().GetInt(flagRepeat)
		interval, _ := cmd.Flags().GetDuration(flagInterval)

		m := newManager()
		db, err := loadDatabase(m)
		if err != nil {
			return err
		}
		bus, err := openBus(ctx, m)
		if err != nil {
			return err
		}
		defer bus.Close()

		for i := 0; i < repeat; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
			if err := m.SendMessage(bus, db, args[0], fields); err != nil {
				return err
			}
		}
		slog.Info("sent", "message", args[0], "count", repeat)
		return nil
	},
}

// parseFields turns signal=value arguments into fields. true and false
// become booleans; everything else stays a string for the encoder to
// resolve as a number or a label.
func parseFields(args []string) (dbc.Fields, error) {
	fields := make(dbc.Fields, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad signal %q, want name=value", arg)
		}
		switch value {
		case "true", "false":
			fields[name] = value == "true"
		default:
			fields[name] = value
		}
	}
	return fields, nil
}
