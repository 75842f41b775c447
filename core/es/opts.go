package es

import "log/slog"

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }
	LogOption          valueOption[*slog.Logger]
)

// WithLog sets the logger of stores and repositories.
func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

func logOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
