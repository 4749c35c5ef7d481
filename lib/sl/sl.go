package sl

import (
	"fmt"
	"log/slog"
	"unicode/utf8"
)

const textLimit = 50

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Secret keeps the first 5 characters of a credential so that logs can tell
// keys apart without leaking them
func Secret(some string) slog.Attr {
	r := "***"
	if len(some) > 5 {
		r = fmt.Sprintf("%s***", some[0:5])
	}
	if some == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   "secret",
		Value: slog.StringValue(r),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

// Text logs user supplied text under key, cut to a readable length on a rune
// boundary.
func Text(key, text string) slog.Attr {
	if utf8.RuneCountInString(text) > textLimit {
		text = string([]rune(text)[:textLimit]) + "..."
	}
	return slog.String(key, text)
}
