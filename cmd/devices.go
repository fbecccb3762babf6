package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available input devices",
	Long:    `List all input devices that can be used for recording, as reported by PortAudio.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := newBackend(cfg)
		devices, err := backend.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list input devices: %w", err)
		}

		fmt.Printf("🎙  Input Devices (%s, %s)\n", runtime.GOOS, backend.GetType())
		fmt.Printf("═══════════════════════════════════════\n\n")

		if len(devices) == 0 {
			fmt.Println("No input devices found.")
			return nil
		}

		for i, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, i+1, d.Name)
			fmt.Printf("      host api: %s, inputs: %d, default rate: %.0f Hz\n",
				d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • * marks the default input device\n")
		fmt.Printf("  • Set audio.device in the config or pass --device to record\n")
		fmt.Printf("  • Names match exactly first, then by case-insensitive substring\n\n")

		return nil
	},
}
