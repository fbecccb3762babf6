package cmd

import (
	"fmt"
	"os"

	"github.com/robertobartola/mybackrec/internal/wav"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [file.wav]",
	Short: "Show the format and length of a recording",
	Long:  `Decode the header of a WAV file and display its format, data size and duration.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		header, err := wav.DecodeHeader(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		format := header.Format()

		fmt.Printf("=== %s ===\n", path)
		fmt.Printf("format: %s\n", format)
		fmt.Printf("channels: %d\n", format.Channels)
		fmt.Printf("sample_rate: %d\n", format.SampleRate)
		fmt.Printf("bits_per_sample: %d\n", format.BitsPerSample)
		fmt.Printf("data_bytes: %d\n", header.DataSize)
		fmt.Printf("duration: %.2fs\n", header.Duration())

		return nil
	},
}
