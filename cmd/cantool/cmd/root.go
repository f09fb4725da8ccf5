package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/k0kubun/go-ansi"
	"github.com/roffe/canman"
	"github.com/roffe/canman/pkg/config"
	"github.com/roffe/canman/pkg/manager"
	"github.com/roffe/canman/pkg/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "cantool",
	Short: "CAN signal database tool",
	Long: `Decode and send CAN messages described by a DBC file.

  cantool list                          adapters and serial ports
  cantool messages                      messages in the DBC file
  cantool monitor                       print decoded traffic
  cantool send <message> sig=value ...  encode and send one message
  cantool replay <file.jsonl>           send a recorded message list
  cantool stats                         adapter counters`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

const (
	flagConfig    = "config"
	flagAdapter   = "adapter"
	flagPort      = "port"
	flagBitrate   = "bitrate"
	flagDBC       = "dbc"
	flagDebug     = "debug"
	flagLogFormat = "log-format"
)

var (
	loader *config.Loader
	appCfg config.AppConfig
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "config file (json, yaml or toml)")
	pf.StringP(flagAdapter, "a", config.Defaults.Bus.Interface, "what adapter to use")
	pf.StringP(flagPort, "p", config.Defaults.Bus.Channel, "channel or com-port, * = pick from a list")
	pf.IntP(flagBitrate, "b", config.Defaults.Bus.Bitrate, "CAN bitrate in bit/s")
	pf.String(flagDBC, "", "DBC signal database")
	pf.BoolP(flagDebug, "d", false, "debug logging")
	pf.String(flagLogFormat, config.Defaults.Log.Format, "log format (text, json)")
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	f := cmd.Flags()
	_ = v.BindPFlag("bus.interface", f.Lookup(flagAdapter))
	_ = v.BindPFlag("bus.channel", f.Lookup(flagPort))
	_ = v.BindPFlag("bus.bitrate", f.Lookup(flagBitrate))
	_ = v.BindPFlag("dbc", f.Lookup(flagDBC))
	_ = v.BindPFlag("log.format", f.Lookup(flagLogFormat))
	if mf := f.Lookup(flagMetricsAddr); mf != nil {
		_ = v.BindPFlag("metrics.addr", mf)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString(flagConfig)
	if path != "" {
		l, err := config.New(path)
		if err != nil {
			return err
		}
		loader = l
	} else {
		loader = config.FromViper(viper.New())
	}
	bindFlags(loader.Viper(), cmd)

	cfg, err := loader.AppConfig()
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool(flagDebug); debug {
		cfg.Log.Level = "debug"
	}
	observability.SetupLogger(cfg.Log.Level, cfg.Log.Format, ansi.NewAnsiStderr())
	appCfg = cfg
	return nil
}

func busConfig() canman.BusConfig {
	return canman.BusConfig{
		Interface: appCfg.Bus.Interface,
		Channel:   appCfg.Bus.Channel,
		Bitrate:   appCfg.Bus.Bitrate,
	}
}

func newManager(opts ...manager.Option) *manager.Manager {
	return manager.New(append([]manager.Option{
		manager.WithLogger(slog.Default()),
		manager.WithRecvTimeout(appCfg.Receive.Timeout),
		manager.WithMaxFrames(appCfg.Receive.MaxFrames),
	}, opts...)...)
}

// openBus opens the configured bus, asking for a serial port first when the
// adapter needs one and none was given.
func openBus(ctx context.Context, m *manager.Manager) (manager.Bus, error) {
	cfg := busConfig()
	port, err := pickPort(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Channel = port
	bus, err := m.OpenBus(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		bus = manager.NewLoggedBus(bus, slog.Default(), slog.LevelDebug, manager.LogAll)
	}
	return bus, nil
}

func loadDatabase(m *manager.Manager) (manager.Database, error) {
	if appCfg.DBC == "" {
		return nil, fmt.Errorf("no DBC file, set --%s or dbc in the config", flagDBC)
	}
	return m.LoadDatabase(appCfg.DBC)
}
