// Package logging builds the zerolog logger shared by every component and
// the buffered writer that keeps reinit passes from interleaving.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/config"
)

// New returns a leveled logger writing to out through a BufferedWriter.
// Format "json" writes raw JSON lines; anything else uses the console
// writer. An unknown level falls back to info.
func New(cfg config.LogConfig, out io.Writer) (zerolog.Logger, *BufferedWriter) {
	bw := NewBufferedWriter(out)

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = bw
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: bw, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), bw
}

// Pass returns log tagged with a fresh bootstrap pass id.
func Pass(log zerolog.Logger) (zerolog.Logger, string) {
	id := uuid.NewString()
	return log.With().Str("pass", id).Logger(), id
}
