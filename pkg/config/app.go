package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AppConfig is the cantool configuration file layout.
type AppConfig struct {
	Bus     BusConfig     `mapstructure:"bus"`
	DBC     string        `mapstructure:"dbc"`
	Receive ReceiveConfig `mapstructure:"receive"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Sinks   []SinkConfig  `mapstructure:"sinks"`
}

type BusConfig struct {
	Interface string `mapstructure:"interface"`
	Channel   string `mapstructure:"channel"`
	Bitrate   int    `mapstructure:"bitrate"`
}

type ReceiveConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxFrames int           `mapstructure:"max_frames"`
	// Interval is the pause between drains in monitor mode.
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SinkConfig names a registered output sink and its parameters.
type SinkConfig struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

var Defaults = AppConfig{
	Bus: BusConfig{
		Interface: "virtual",
		Channel:   "0",
		Bitrate:   500000,
	},
	Receive: ReceiveConfig{
		Timeout:   10 * time.Millisecond,
		MaxFrames: 4096,
		Interval:  100 * time.Millisecond,
	},
	Log: LogConfig{
		Level:  "info",
		Format: "text",
	},
}

// SetDefaults registers Defaults on v so unset keys fall back to them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bus.interface", Defaults.Bus.Interface)
	v.SetDefault("bus.channel", Defaults.Bus.Channel)
	v.SetDefault("bus.bitrate", Defaults.Bus.Bitrate)
	v.SetDefault("receive.timeout", Defaults.Receive.Timeout)
	v.SetDefault("receive.max_frames", Defaults.Receive.MaxFrames)
	v.SetDefault("receive.interval", Defaults.Receive.Interval)
	v.SetDefault("log.level", Defaults.Log.Level)
	v.SetDefault("log.format", Defaults.Log.Format)
}

// AppConfig decodes the whole file over Defaults.
func (l *Loader) AppConfig() (AppConfig, error) {
	SetDefaults(l.v)
	var cfg AppConfig
	if err := l.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.Bus.Interface == "" {
		errs = append(errs, errors.New("bus.interface is empty"))
	}
	if c.Bus.Bitrate <= 0 {
		errs = append(errs, fmt.Errorf("bus.bitrate %d is not positive", c.Bus.Bitrate))
	}
	if c.Receive.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("receive.max_frames %d is negative", c.Receive.MaxFrames))
	}
	for i, s := range c.Sinks {
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("sinks[%d].type is empty", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
