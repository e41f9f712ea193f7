package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/realtime-voice/devices/portaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		terminate, err := portaudio.Init()
		if err != nil {
			return err
		}
		defer func() { _ = terminate() }()

		devices, err := portaudio.ListDevices()
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), devices)
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(w io.Writer, devices []portaudio.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIN\tOUT\tRATE")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f\n", d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return tw.Flush()
}
