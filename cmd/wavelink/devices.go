package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/wavelink/device"
	"github.com/opd-ai/wavelink/device/miniaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("direction")
		if err != nil {
			return err
		}
		if dir != "" && dir != "capture" && dir != "playback" {
			return fmt.Errorf("unknown direction %q (capture, playback)", dir)
		}

		provider, err := miniaudio.New()
		if err != nil {
			return err
		}
		defer provider.Close()

		if dir == "" || dir == "capture" {
			if err := printDevices(provider, device.Capture, "Capture devices:"); err != nil {
				return err
			}
		}
		if dir == "" || dir == "playback" {
			return printDevices(provider, device.Playback, "Playback devices:")
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().String("direction", "", "limit the listing to one direction (capture, playback)")
}

func printDevices(provider *miniaudio.Provider, dir device.Direction, header string) error {
	infos, err := provider.Devices(dir)
	if err != nil {
		return err
	}
	fmt.Println(header)
	if len(infos) == 0 {
		fmt.Println("  (none)")
		return nil
	}
	for _, info := range infos {
		marker := ""
		if info.Default {
			marker = " (default)"
		}
		fmt.Printf("  %d: %s%s\n", info.Index, info.Name, marker)
	}
	return nil
}

// openProvider creates the miniaudio backend and pins the requested
// device index for one direction. Index -1 keeps the system default.
func openProvider(dir device.Direction, index int) (*miniaudio.Provider, error) {
	provider, err := miniaudio.New()
	if err != nil {
		return nil, err
	}
	if index >= 0 {
		if err := provider.SelectDevice(dir, index); err != nil {
			provider.Close()
			return nil, err
		}
	}
	return provider, nil
}
