package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/roffe/canman/pkg/bar"
	"github.com/roffe/canman/pkg/streamio"
	"github.com/spf13/cobra"
)

func init() {
	replayCmd.Flags().DurationP(flagInterval, "i", 10*time.Millisecond, "pause between messages")
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "send every message listed in a JSON lines file",
	Long: `Send a list of messages, one JSON object per line:

  {"name": "Engine", "fields": {"Rpm": 3000, "Temp": 90, "Running": true, "Gear": "D"}}

Blank lines and lines starting with # are skipped. The first failing
message stops the replay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		interval, _ := cmd.Flags().GetDuration(flagInterval)

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		msgs, err := readMessages(f)
		f.Close()
		if err != nil {
			return err
		}

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

		sink, err := streamio.NewCANOutputSink(streamio.Params{
			streamio.ParamManager:  m,
			streamio.ParamBus:      bus,
			streamio.ParamDatabase: db,
		})
		if err != nil {
			return err
		}
		if err := sink.Initialize(ctx); err != nil {
			return err
		}
		defer sink.Shutdown()

		pb := bar.New(len(msgs), "replay")
		for i, msg := range msgs {
			if err := sink.Write(msg); err != nil {
				return fmt.Errorf("message %d (%s): %w", i+1, msg.Name, err)
			}
			pb.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		return nil
	},
}

func readMessages(r io.Reader) ([]streamio.Message, error) {
	var out []streamio.Message
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var msg streamio.Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if msg.Name == "" {
			return nil, fmt.Errorf("line %d: message has no name", line)
		}
		out = append(out, msg)
	}
	return out, sc.Err()
}
