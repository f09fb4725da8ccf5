package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/roffe/canman"
)

// LogOption is a bitmask selecting which bus operations a logged bus
// records.
type LogOption uint8

const (
	LogRecv LogOption = 1 << iota
	LogSend

	LogNone LogOption = 0
	LogAll            = LogRecv | LogSend
)

// NewLoggedBus wraps inner and logs the selected operations at level.
// Errors are always logged at error level for the selected operations.
func NewLoggedBus(inner Bus, logger *slog.Logger, level slog.Level, opts LogOption) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggedBus{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
	}
}

type loggedBus struct {
	inner  Bus
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
}

func (l *loggedBus) Send(frame *canman.CANFrame) error {
	if l.opts&LogSend != 0 {
		l.logger.Log(context.Background(), l.level, "bus send",
			"id", frame.Identifier,
			"extended", frame.Extended,
			"len", frame.DLC(),
			"data", frame.Data,
		)
	}
	err := l.inner.Send(frame)
	if l.opts&LogSend != 0 && err != nil {
		l.logger.Log(context.Background(), slog.LevelError, "bus send error",
			"id", frame.Identifier,
			"error", err,
		)
	}
	return err
}

func (l *loggedBus) Recv(timeout time.Duration) (*canman.CANFrame, error) {
	f, err := l.inner.Recv(timeout)
	if l.opts&LogRecv != 0 {
		switch {
		case err != nil:
			l.logger.Log(context.Background(), slog.LevelError, "bus recv error", "error", err)
		case f != nil:
			l.logger.Log(context.Background(), l.level, "bus recv",
				"id", f.Identifier,
				"extended", f.Extended,
				"len", f.DLC(),
				"data", f.Data,
			)
		}
	}
	return f, err
}

func (l *loggedBus) Stats() (canman.Stats, error) {
	return l.inner.Stats()
}

func (l *loggedBus) Close() error {
	err := l.inner.Close()
	if err != nil {
		l.logger.Log(context.Background(), slog.LevelError, "bus close error", "error", err)
	}
	return err
}
