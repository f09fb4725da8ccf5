// Package manager ties a signal database to a CAN bus: it drains and
// decodes received frames, encodes and sends named messages and reports bus
// statistics.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roffe/canman"
	"github.com/roffe/canman/pkg/dbc"
	"github.com/roffe/canman/pkg/observability"
)

const (
	DefaultMaxFrames   = 4096
	DefaultRecvTimeout = 10 * time.Millisecond
)

// Bus is the transport the manager talks to. Recv returns a nil frame and a
// nil error once nothing arrived within timeout.
type Bus interface {
	Recv(timeout time.Duration) (*canman.CANFrame, error)
	Send(frame *canman.CANFrame) error
	Stats() (canman.Stats, error)
	Close() error
}

type MessageDef interface {
	FrameID() uint32
	Encode(fields dbc.Fields) ([]byte, error)
}

type Database interface {
	MessageByName(name string) (MessageDef, error)
	Decode(id uint32, data []byte) (dbc.Fields, error)
}

// Result holds the last decoded fields per frame id seen during one drain.
type Result map[uint32]dbc.Fields

type (
	Loader func(path string) (Database, error)
	Opener func(ctx context.Context, cfg canman.BusConfig) (Bus, error)
)

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithLoader(fn Loader) Option {
	return func(m *Manager) {
		m.loader = fn
	}
}

func WithOpener(fn Opener) Option {
	return func(m *Manager) {
		m.opener = fn
	}
}

// WithRecvTimeout sets how long each Recv of a drain waits for a frame.
func WithRecvTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.recvTimeout = d
		}
	}
}

// WithMaxFrames bounds how many frames one drain consumes.
func WithMaxFrames(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFrames = n
		}
	}
}

type Manager struct {
	log         *slog.Logger
	metrics     *observability.Metrics
	loader      Loader
	opener      Opener
	recvTimeout time.Duration
	maxFrames   int

	decodeFailures atomic.Uint64
}

func New(opts ...Option) *Manager {
	m := &Manager{
		log:         slog.Default(),
		loader:      LoadDBC,
		recvTimeout: DefaultRecvTimeout,
		maxFrames:   DefaultMaxFrames,
	}
	for _, o := range opts {
		o(m)
	}
	if m.opener == nil {
		m.opener = func(ctx context.Context, cfg canman.BusConfig) (Bus, error) {
			b, err := canman.Open(ctx, cfg, canman.WithBusLogger(m.log))
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	return m
}

func (m *Manager) fail(stage Stage, err error) error {
	if m.metrics != nil {
		m.metrics.Errors.WithLabelValues(string(stage)).Inc()
	}
	return &StageError{Stage: stage, Err: err}
}

// DecodeFailures is the number of frames skipped because they did not
// decode, over the manager's lifetime.
func (m *Manager) DecodeFailures() uint64 {
	return m.decodeFailures.Load()
}

// LoadDatabase loads the signal database at path.
func (m *Manager) LoadDatabase(path string) (Database, error) {
	db, err := m.loader(path)
	if err != nil {
		return nil, m.fail(StageLoad, err)
	}
	m.log.Debug("database loaded", "path", path)
	return db, nil
}

// OpenBus opens a bus with exactly cfg. Failures are not retried.
func (m *Manager) OpenBus(ctx context.Context, cfg canman.BusConfig) (Bus, error) {
	bus, err := m.opener(ctx, cfg)
	if err != nil {
		return nil, m.fail(StageOpen, err)
	}
	m.log.Debug("bus opened", "interface", cfg.Interface, "channel", cfg.Channel, "bitrate", cfg.Bitrate)
	return bus, nil
}

// ReceiveMessages reads frames until the bus reports nothing pending and
// decodes each one. Frames that fail to decode are skipped. A later frame
// with the same id replaces the earlier fields. A receive error ends the
// drain and is returned with what was decoded up to that point.
func (m *Manager) ReceiveMessages(bus Bus, db Database) (Result, error) {
	result := make(Result)
	if bus == nil {
		return result, m.fail(StageRecv, ErrNoBus)
	}
	if db == nil {
		return result, m.fail(StageRecv, ErrNoDatabase)
	}
	if m.metrics != nil {
		start := time.Now()
		defer func() {
			m.metrics.DrainDuration.Observe(time.Since(start).Seconds())
		}()
	}

	for range m.maxFrames {
		frame, err := bus.Recv(m.recvTimeout)
		if err != nil {
			return result, m.fail(StageRecv, err)
		}
		if frame == nil {
			return result, nil
		}
		m.take(db, frame, result)
	}
	// A bus holding exactly maxFrames is drained; only warn when more is
	// already waiting.
	frame, err := bus.Recv(0)
	if err != nil {
		return result, m.fail(StageRecv, err)
	}
	if frame == nil {
		return result, nil
	}
	m.take(db, frame, result)
	m.log.Warn("receive drain stopped at frame limit", "max_frames", m.maxFrames, "decoded", len(result))
	return result, nil
}

// take decodes one received frame into result, or counts it as a decode
// failure.
func (m *Manager) take(db Database, frame *canman.CANFrame, result Result) {
	if m.metrics != nil {
		m.metrics.FramesReceived.Inc()
	}
	fields, err := db.Decode(frame.Identifier, frame.Data)
	if err != nil {
		m.decodeFailures.Add(1)
		if m.metrics != nil {
			m.metrics.DecodeFailures.WithLabelValues(failureReason(err)).Inc()
		}
		m.log.Debug("skipping frame", "id", fmt.Sprintf("0x%X", frame.Identifier), "error", err)
		return
	}
	if m.metrics != nil {
		// ids here are bounded by the database
		m.metrics.FramesDecoded.WithLabelValues(fmt.Sprintf("0x%X", frame.Identifier)).Inc()
	}
	result[frame.Identifier] = fields
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, dbc.ErrUnknownFrame):
		return "unknown_frame"
	case errors.Is(err, dbc.ErrShortPayload):
		return "short_payload"
	default:
		return "other"
	}
}

// SendMessage encodes fields as the named message and sends it once as an
// extended frame.
func (m *Manager) SendMessage(bus Bus, db Database, name string, fields dbc.Fields) error {
	if bus == nil {
		return m.fail(StageSend, ErrNoBus)
	}
	if db == nil {
		return m.fail(StageLookup, ErrNoDatabase)
	}
	def, err := db.MessageByName(name)
	if err != nil {
		return m.fail(StageLookup, err)
	}
	payload, err := def.Encode(fields)
	if err != nil {
		return m.fail(StageEncode, err)
	}
	frame := canman.NewExtendedFrame(def.FrameID(), payload, canman.Outgoing)
	if err := bus.Send(frame); err != nil {
		return m.fail(StageSend, err)
	}
	if m.metrics != nil {
		m.metrics.FramesSent.WithLabelValues(name).Inc()
	}
	return nil
}

func (m *Manager) BusStats(bus Bus) (canman.Stats, error) {
	if bus == nil {
		return canman.Stats{}, m.fail(StageStats, ErrNoBus)
	}
	st, err := bus.Stats()
	if err != nil {
		return canman.Stats{}, m.fail(StageStats, err)
	}
	return st, nil
}
