//go:build windows

package cmd

import "os"

// No SIGUSR1 on Windows; use Enter instead.
func freezeSignals() []os.Signal {
	return nil
}
