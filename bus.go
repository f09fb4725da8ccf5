package canman

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSendTimeout = 250 * time.Millisecond

// BusConfig selects the adapter (Interface), the device on it (Channel) and
// the bitrate in bit/s.
type BusConfig struct {
	Interface string `mapstructure:"interface" json:"interface"`
	Channel   string `mapstructure:"channel" json:"channel"`
	Bitrate   int    `mapstructure:"bitrate" json:"bitrate"`
}

func (c BusConfig) Validate() error {
	if strings.TrimSpace(c.Interface) == "" {
		return fmt.Errorf("%w %q", ErrUnknownAdapter, c.Interface)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, c.Bitrate)
	}
	return nil
}

func (c BusConfig) String() string {
	return fmt.Sprintf("%s:%s@%d", c.Interface, c.Channel, c.Bitrate)
}

// Bus is a synchronous handle over a channel based Adapter. It is meant for a
// single owner; Close makes every later call return ErrClosed.
type Bus struct {
	cfg         BusConfig
	adapter     Adapter
	log         *slog.Logger
	sendTimeout time.Duration

	failMu sync.Mutex
	failed error

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

type BusOption func(*Bus)

func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

func WithSendTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// Open creates the adapter registered under cfg.Interface and opens it on
// cfg.Channel at cfg.Bitrate. The adapter's goroutines live until Close or
// until ctx is cancelled.
func Open(ctx context.Context, cfg BusConfig, opts ...BusOption) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bus{
		cfg:         cfg,
		log:         slog.Default(),
		sendTimeout: defaultSendTimeout,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With("bus", cfg.String())

	dev, err := NewAdapter(cfg.Interface, &AdapterConfig{
		Port:      cfg.Channel,
		CANRate:   float64(cfg.Bitrate) / 1000,
		OnMessage: func(msg string) { b.log.Info(msg) },
	})
	if err != nil {
		return nil, err
	}
	if err := dev.Open(ctx); err != nil {
		return nil, err
	}
	b.adapter = dev
	go b.events()
	return b, nil
}

func (b *Bus) Config() BusConfig {
	return b.cfg
}

func (b *Bus) events() {
	for {
		select {
		case <-b.done:
			return
		case evt := <-b.adapter.Event():
			b.log.Log(context.Background(), evt.Type.Level(), evt.Details, "adapter", b.adapter.Name())
		}
	}
}

func (b *Bus) fail(err error) error {
	if err == nil {
		err = ErrClosed
	}
	b.failMu.Lock()
	defer b.failMu.Unlock()
	if b.failed == nil {
		b.failed = err
	}
	return b.failed
}

func (b *Bus) check() error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.failMu.Lock()
	defer b.failMu.Unlock()
	return b.failed
}

// Send queues frame on the adapter. It fails with a *TimeoutError when the
// adapter does not accept the frame within the send timeout.
func (b *Bus) Send(frame *CANFrame) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	out := NewFrame(frame.Identifier, frame.Data, Outgoing)
	out.Extended = frame.Extended
	out.RTR = frame.RTR

	t := time.NewTimer(b.sendTimeout)
	defer t.Stop()
	select {
	case b.adapter.Send() <- out:
		return nil
	case err := <-b.adapter.Err():
		return b.fail(err)
	case <-b.done:
		return ErrClosed
	case <-t.C:
		return &TimeoutError{Type: "send", Timeout: b.sendTimeout.Milliseconds(), Frame: frame.Identifier}
	}
}

// Recv returns the next queued frame, waiting at most timeout. A nil frame
// with a nil error means nothing arrived in time.
func (b *Bus) Recv(timeout time.Duration) (*CANFrame, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	select {
	case frame, ok := <-b.adapter.Recv():
		if !ok {
			return nil, b.fail(ErrClosed)
		}
		return frame, nil
	default:
	}
	if timeout <= 0 {
		return nil, nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case frame, ok := <-b.adapter.Recv():
		if !ok {
			return nil, b.fail(ErrClosed)
		}
		return frame, nil
	case err := <-b.adapter.Err():
		return nil, b.fail(err)
	case <-b.done:
		return nil, ErrClosed
	case <-t.C:
		return nil, nil
	}
}

func (b *Bus) Stats() (Stats, error) {
	if err := b.check(); err != nil {
		return Stats{}, err
	}
	st := b.adapter.Stats()
	st.Channel = b.cfg.Channel
	st.Bitrate = b.cfg.Bitrate
	return st, nil
}

func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		err = b.adapter.Close()
	})
	return err
}
