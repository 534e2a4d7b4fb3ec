package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wavelink"
	"github.com/opd-ai/wavelink/device"
	"github.com/opd-ai/wavelink/record"
)

var rxCmd = &cobra.Command{
	Use:   "rx",
	Short: "Receive a peer's audio stream and play it locally",
	Long: `rx binds the listen address and plays whatever arrives through
the playback device. Arriving frames are held for the playout delay so
late and reordered datagrams still land in their slot; lost frames are
concealed with silence. The session ends when the peer stays silent
past the timeout.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"listen":         "listen",
			"rate":           "rate",
			"channels":       "channels",
			"format":         "format",
			"chunk_frames":   "chunk-frames",
			"delay":          "delay",
			"peer_timeout":   "peer-timeout",
			"stats_interval": "stats-interval",
			"device":         "device",
			"dump":           "dump",
		})
	},
	RunE: runRx,
}

func init() {
	f := rxCmd.Flags()
	f.String("listen", ":9999", "bind address")
	f.Int("rate", 48000, "sample rate in Hz")
	f.Int("channels", 1, "channel count")
	f.String("format", "int16", "sample format (int16, int32, float32)")
	f.Int("chunk-frames", 480, "frames per datagram")
	f.Duration("delay", wavelink.DefaultPlayoutDelay, "playout delay")
	f.Duration("peer-timeout", wavelink.DefaultPeerTimeout, "end the session after this much peer silence")
	f.Duration("stats-interval", wavelink.DefaultStatsInterval, "periodic stats logging interval (0 = off)")
	f.Int("device", -1, "playback device index from 'wavelink devices' (-1 = system default)")
	f.String("dump", "", "also record played audio to this WAV file")
}

func runRx(cmd *cobra.Command, args []string) error {
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

	provider, err := openProvider(device.Playback, cfg.Device)
	if err != nil {
		return err
	}
	defer provider.Close()

	opts.ListenAddr = cfg.Listen
	opts.Devices = provider

	if cfg.Dump != "" {
		writer, err := record.NewWriter(cfg.Dump, opts.Config)
		if err != nil {
			return err
		}
		defer writer.Close()
		opts.Tap = writer
		logrus.WithField("path", cfg.Dump).Info("Recording played audio")
	}

	receiver, err := wavelink.NewReceiver(opts)
	if err != nil {
		return err
	}

	err = receiver.Run(ctx)
	st := receiver.Stats()
	logrus.WithFields(logrus.Fields{
		"frames":    st.Frames,
		"played":    st.Played,
		"concealed": st.Concealed,
	}).Info("Reception finished")
	return err
}
