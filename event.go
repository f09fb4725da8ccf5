package canman

import (
	"fmt"
	"log/slog"
)

type EventType int

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Level maps the event type onto a slog level.
func (et EventType) Level() slog.Level {
	switch et {
	case EventTypeError:
		return slog.LevelError
	case EventTypeWarning:
		return slog.LevelWarn
	case EventTypeDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Event is an out-of-band notice from an adapter, e.g. a dropped frame or a
// status flag reported by the device.
type Event struct {
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Details)
}
