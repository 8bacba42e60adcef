package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/ppiankov/feedcaster/internal/config"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// newLogger builds the process logger. Flags override the environment
// settings. Logs go to w so stdout stays free for command output.
func newLogger(w io.Writer, settings config.Settings) (zerolog.Logger, error) {
	level := settings.LogLevel
	if logLevel != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(logLevel))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("--log-level: %w", err)
		}
		level = parsed
	}

	outputFormat := settings.LogFormat
	if logFormat != "" {
		outputFormat = strings.ToLower(logFormat)
	}

	var out io.Writer
	switch outputFormat {
	case "json":
		out = w
	case "console", "":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat, NoColor: !isTerminal(w)}
	default:
		return zerolog.Nop(), fmt.Errorf("--log-format: unknown format %q (want console or json)", outputFormat)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
