// Package logging configures the process-wide zerolog logger used by every
// other package in this module. Call Init once from main; everywhere else,
// use the package-level log.Logger from github.com/rs/zerolog/log directly.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. levelName is one of
// debug|info|warn|error (case-insensitive); pretty enables a human-readable
// console writer for local development instead of JSON lines.
func Init(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out = os.Stderr
	if pretty {
		writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		log.Logger = zerolog.New(writer).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
