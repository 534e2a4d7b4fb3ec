package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/wavelink"
	"github.com/opd-ai/wavelink/audio"
)

// Config is the merged view of flags, environment (WAVELINK_*), and an
// optional YAML config file. Explicit flags win, then environment, then
// the file, then flag defaults.
type Config struct {
	Peer          string        `mapstructure:"peer"`
	Listen        string        `mapstructure:"listen"`
	Rate          int           `mapstructure:"rate"`
	Channels      int           `mapstructure:"channels"`
	Format        string        `mapstructure:"format"`
	ChunkFrames   int           `mapstructure:"chunk_frames"`
	Delay         time.Duration `mapstructure:"delay"`
	PeerTimeout   time.Duration `mapstructure:"peer_timeout"`
	Keepalive     time.Duration `mapstructure:"keepalive"`
	Duration      time.Duration `mapstructure:"duration"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	Device        int           `mapstructure:"device"`
	Dump          string        `mapstructure:"dump"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFile       string        `mapstructure:"log_file"`
}

// loadConfigFile points viper at the config file (explicit path or the
// search locations) and reads it. A missing file is not an error; a
// malformed one is.
func loadConfigFile(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("wavelink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/wavelink")
	}

	viper.SetEnvPrefix("WAVELINK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// activeConfig unmarshals the merged settings for the executing command.
func activeConfig() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// streamConfig translates the CLI's stream shape into the library's.
func (c *Config) streamConfig() (audio.StreamConfig, error) {
	format, err := audio.ParseFormat(c.Format)
	if err != nil {
		return audio.StreamConfig{}, err
	}
	sc := audio.StreamConfig{
		SampleRate:  c.Rate,
		Channels:    c.Channels,
		Format:      format,
		ChunkFrames: c.ChunkFrames,
	}
	if err := sc.Validate(); err != nil {
		return audio.StreamConfig{}, err
	}
	return sc, nil
}

// sessionOptions builds the shared session options from the merged
// configuration. Role-specific fields (peer, listen, tap) are set by the
// command that uses them.
func (c *Config) sessionOptions() (*wavelink.Options, error) {
	sc, err := c.streamConfig()
	if err != nil {
		return nil, err
	}
	opts := wavelink.NewOptions()
	opts.Config = sc
	opts.PlayoutDelay = c.Delay
	opts.PeerTimeout = c.PeerTimeout
	opts.KeepaliveInterval = c.Keepalive
	opts.Duration = c.Duration
	opts.StatsInterval = c.StatsInterval
	return opts, nil
}

// bindFlags maps viper keys to the executing command's flags. Several
// commands reuse the same keys, so binding happens at run time rather
// than in init.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}
