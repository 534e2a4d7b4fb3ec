package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/wavelink/transport"
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Reflect every datagram back to its sender",
	Long: `echo binds a port and sends each arriving datagram straight back.
Point tx at it from another host and run rx on the same port there to
hear your own audio after a full round trip, playout delay included.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"listen": "listen",
		})
	},
	RunE: runEcho,
}

func init() {
	echoCmd.Flags().String("listen", ":9999", "bind address")
}

func runEcho(cmd *cobra.Command, args []string) error {
	cfg, err := activeConfig()
	if err != nil {
		return err
	}

	server, err := transport.NewEchoServer(cfg.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	err = server.Run(ctx)
	logrus.WithField("reflected", server.Reflected()).Info("Echo server stopped")
	return err
}
