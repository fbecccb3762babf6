//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// freezeSignals returns the signals that trigger a freeze while recording.
func freezeSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
