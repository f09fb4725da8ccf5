package streamio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roffe/canman/pkg/dbc"
	"github.com/roffe/canman/pkg/manager"
)

// Param keys for the CAN source and sink. The values are live handles, so
// these types can only be created from code, not from a config file.
const (
	ParamManager  = "manager"
	ParamBus      = "bus"
	ParamDatabase = "database"
)

func init() {
	mustRegisterSource(func(p Params) (InputSource, error) {
		s, err := NewCANInputSource(p)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, "can")
	mustRegisterSink(func(p Params) (OutputSink, error) {
		s, err := NewCANOutputSink(p)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, "can")
}

// Message is what CANOutputSink writes: a message name from the database and
// its signal values.
type Message struct {
	Name   string     `json:"name"`
	Fields dbc.Fields `json:"fields"`
}

type canHandles struct {
	m   *manager.Manager
	bus manager.Bus
	db  manager.Database
}

func handlesFrom(p Params) (canHandles, error) {
	var h canHandles
	var ok bool
	if h.bus, ok = p[ParamBus].(manager.Bus); !ok || h.bus == nil {
		return h, fmt.Errorf("%w %s: want a manager.Bus", ErrBadParam, ParamBus)
	}
	if h.db, ok = p[ParamDatabase].(manager.Database); !ok || h.db == nil {
		return h, fmt.Errorf("%w %s: want a manager.Database", ErrBadParam, ParamDatabase)
	}
	h.m, _ = p[ParamManager].(*manager.Manager)
	if h.m == nil {
		h.m = manager.New()
	}
	return h, nil
}

// CANInputSource reads the bus: every Read is one receive drain and yields
// its manager.Result.
type CANInputSource struct {
	canHandles
	mu       sync.Mutex
	callback func(any)
}

func NewCANInputSource(params Params) (*CANInputSource, error) {
	h, err := handlesFrom(params)
	if err != nil {
		return nil, err
	}
	return &CANInputSource{canHandles: h}, nil
}

func (s *CANInputSource) Initialize(context.Context) error { return nil }

// Shutdown leaves the bus open; it belongs to whoever opened it.
func (s *CANInputSource) Shutdown() error { return nil }

func (s *CANInputSource) RegisterCallback(fn func(any)) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// Read drains the bus once. A receive error is returned along with the
// messages decoded before it; the callback only sees complete drains.
func (s *CANInputSource) Read() (any, error) {
	res, err := s.m.ReceiveMessages(s.bus, s.db)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb != nil {
		cb(res)
	}
	return res, nil
}

// CANOutputSink sends every written Message on the bus.
type CANOutputSink struct {
	canHandles
	mu          sync.Mutex
	initialized bool
}

func NewCANOutputSink(params Params) (*CANOutputSink, error) {
	h, err := handlesFrom(params)
	if err != nil {
		return nil, err
	}
	return &CANOutputSink{canHandles: h}, nil
}

func (s *CANOutputSink) Initialize(context.Context) error {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *CANOutputSink) Shutdown() error {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}

// Write accepts a Message or *Message.
func (s *CANOutputSink) Write(v any) error {
	s.mu.Lock()
	ok := s.initialized
	s.mu.Unlock()
	if !ok {
		return ErrNotInitialized
	}
	var msg Message
	switch x := v.(type) {
	case Message:
		msg = x
	case *Message:
		if x == nil {
			return errors.New("streamio: nil message")
		}
		msg = *x
	default:
		return fmt.Errorf("streamio: can sink cannot write %T", v)
	}
	return s.m.SendMessage(s.bus, s.db, msg.Name, msg.Fields)
}
