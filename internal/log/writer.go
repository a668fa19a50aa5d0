package log

import (
	"strings"

	"github.com/rs/zerolog"
)

// Writer adapts Logger to an io.Writer for libraries that want a *log.Logger.
type Writer struct {
	Origin string
	Level  zerolog.Level
}

func (w Writer) Write(p []byte) (int, error) {
	Logger.WithLevel(w.Level).Str("origin", w.Origin).Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
