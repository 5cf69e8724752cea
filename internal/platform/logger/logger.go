package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"dncproxy/pkg/platform/privacy"
)

// New returns a JSON logger on stdout at the given level with email redaction.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New with a custom destination.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}))
}

// redact masks any attribute keyed as an email and any address embedded in
// other string values, including error messages.
func redact(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if strings.Contains(strings.ToLower(a.Key), "email") {
			return slog.String(a.Key, privacy.RedactEmail(a.Value.String()))
		}
		return slog.String(a.Key, privacy.RedactEmailsIn(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, privacy.RedactEmailsIn(err.Error()))
		}
	}
	return a
}
