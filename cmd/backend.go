package cmd

import (
	"github.com/robertobartola/mybackrec/internal/audio"
	"github.com/robertobartola/mybackrec/internal/audio/portaudio"
	"github.com/robertobartola/mybackrec/internal/config"
)

// newBackend returns the capture backend selected by the configuration.
func newBackend(cfg *config.Config) audio.Backend {
	switch audio.SelectBackend(cfg) {
	case audio.BackendTypePortAudio:
		return portaudio.New()
	default:
		return portaudio.New()
	}
}
