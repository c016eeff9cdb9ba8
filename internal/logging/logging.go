// Package logging provides application-wide logging configuration.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var verboseEnabled bool

// Init initializes the global logger. Verbose mode lowers the level to debug
// so every turn, tool call and gate review is traced.
func Init(verbose bool) {
	InitWriter(os.Stderr, verbose)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(w io.Writer, verbose bool) {
	verboseEnabled = verbose
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	})
}

// VerboseEnabled reports whether verbose logging is enabled.
func VerboseEnabled() bool {
	return verboseEnabled
}
