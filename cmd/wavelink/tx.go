package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wavelink"
	"github.com/opd-ai/wavelink/device"
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Capture local audio and stream it to a peer",
	Long: `tx opens the capture device and streams raw PCM to the peer,
one chunk per datagram, until interrupted or the configured duration
elapses. Keepalives cover capture gaps so the receiver knows the link
is alive.`,
	// Commands share viper keys (rate, device, ...), so each binds its
	// own flags only once it is the one running.
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"peer":           "peer",
			"rate":           "rate",
			"channels":       "channels",
			"format":         "format",
			"chunk_frames":   "chunk-frames",
			"keepalive":      "keepalive",
			"duration":       "duration",
			"stats_interval": "stats-interval",
			"device":         "device",
		})
	},
	RunE: runTx,
}

func init() {
	f := txCmd.Flags()
	f.String("peer", "", "destination host:port (required, flag, env, or config file)")
	f.Int("rate", 48000, "sample rate in Hz")
	f.Int("channels", 1, "channel count")
	f.String("format", "int16", "sample format (int16, int32, float32)")
	f.Int("chunk-frames", 480, "frames per datagram")
	f.Duration("keepalive", wavelink.DefaultKeepaliveInterval, "keepalive interval during capture gaps")
	f.Duration("duration", 0, "stop after this much capture (0 = until interrupted)")
	f.Duration("stats-interval", wavelink.DefaultStatsInterval, "periodic stats logging interval (0 = off)")
	f.Int("device", -1, "capture device index from 'wavelink devices' (-1 = system default)")
}

func runTx(cmd *cobra.Command, args []string) error {
	cfg, err := activeConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.sessionOptions()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	stopMetrics, err := startMetrics(ctx, cfg.MetricsAddr)
	if err != nil {
		return err
	}
	defer stopMetrics()

	provider, err := openProvider(device.Capture, cfg.Device)
	if err != nil {
		return err
	}
	defer provider.Close()

	opts.PeerAddr = cfg.Peer
	opts.Devices = provider

	sender, err := wavelink.NewSender(opts)
	if err != nil {
		return err
	}

	if err := sender.Run(ctx); err != nil {
		return err
	}

	st := sender.Stats()
	logrus.WithFields(logrus.Fields{
		"captured":   st.Captured,
		"sent":       st.Sent,
		"keepalives": st.Keepalives,
		"dropped":    st.HandoffDropped,
	}).Info("Transmission finished")
	return nil
}
