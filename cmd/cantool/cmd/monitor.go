package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/canman/pkg/config"
	"github.com/roffe/canman/pkg/dbc"
	"github.com/roffe/canman/pkg/manager"
	"github.com/roffe/canman/pkg/observability"
	"github.com/roffe/canman/pkg/streamio"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flagMetricsAddr = "metrics-addr"
	flagOnce        = "once"
)

func init() {
	monitorCmd.Flags().String(flagMetricsAddr, "", "serve Prometheus metrics on this address, e.g. :9100")
	monitorCmd.Flags().Bool(flagOnce, false, "drain the bus once and exit")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print decoded messages as they arrive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		once, _ := cmd.Flags().GetBool(flagOnce)

		var shutdown observability.ShutdownCoordinator
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown.Shutdown(sctx)
		}()

		metrics := observability.NewMetrics()
		m := newManager(manager.WithMetrics(metrics))
		db, err := loadDatabase(m)
		if err != nil {
			return err
		}
		bus, err := openBus(ctx, m)
		if err != nil {
			return err
		}
		shutdown.Register("bus", func(context.Context) error { return bus.Close() })

		sinks, err := openSinks(ctx, appCfg.Sinks)
		if err != nil {
			return err
		}
		shutdown.Register("sinks", func(context.Context) error { return sinks.Shutdown() })

		src, err := streamio.NewCANInputSource(streamio.Params{
			streamio.ParamManager:  m,
			streamio.ParamBus:      bus,
			streamio.ParamDatabase: db,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		src.RegisterCallback(func(v any) {
			res := v.(manager.Result)
			printResult(out, res)
			if len(res) == 0 || len(sinks) == 0 {
				return
			}
			if err := sinks.Write(res); err != nil {
				slog.Error("sink write failed", "error", err)
			}
		})

		if once {
			_, err := src.Read()
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		if addr := appCfg.Metrics.Addr; addr != "" {
			srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
			g.Go(func() error {
				slog.Info("serving metrics", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				return srv.Shutdown(context.Background())
			})
		}
		g.Go(func() error {
			return drainLoop(gctx, src, appCfg.Receive.Interval)
		})
		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// drainLoop reads src until ctx is done, pausing interval between drains.
func drainLoop(ctx context.Context, src streamio.InputSource, interval time.Duration) error {
	for {
		if _, err := src.Read(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func openSinks(ctx context.Context, cfgs []config.SinkConfig) (streamio.MultiSink, error) {
	var sinks streamio.MultiSink
	for _, c := range cfgs {
		s, err := streamio.NewSink(c.Type, streamio.Params(c.Params))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if err := sinks.Initialize(ctx); err != nil {
		return nil, err
	}
	return sinks, nil
}

var (
	msgID  = color.New(color.FgGreen).SprintfFunc()
	sigKey = color.New(color.FgHiBlue).SprintFunc()
)

func printResult(w io.Writer, res manager.Result) {
	ids := make([]uint32, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "%s %s\n", msgID("0x%03X", id), formatFields(res[id], sigKey))
	}
}

func formatFields(f dbc.Fields, key func(...any) string) string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%v", key(n), f[n])
	}
	return strings.Join(parts, " ")
}
