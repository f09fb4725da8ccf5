package dbc

import (
	"fmt"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
)

// maxPayload is the classical CAN data field size.
const maxPayload = 8

type Message struct {
	Name     string
	ID       uint32
	Extended bool
	// Length is the payload size in bytes.
	Length  uint8
	Sender  string
	Signals []*Signal

	mux *Signal
}

func compileMessage(def *dbc.MessageDef) (*Message, error) {
	if def.Size > maxPayload {
		return nil, fmt.Errorf("message %s: size %d exceeds %d bytes", def.Name, def.Size, maxPayload)
	}
	msg := &Message{
		Name:     string(def.Name),
		ID:       def.MessageID.ToCAN(),
		Extended: def.MessageID.IsExtended(),
		Length:   uint8(def.Size),
		Sender:   string(def.Transmitter),
	}
	seen := make(map[string]bool, len(def.Signals))
	for i := range def.Signals {
		sig, err := compileSignal(&def.Signals[i], msg.Length)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.Name, err)
		}
		if seen[sig.Name] {
			return nil, fmt.Errorf("message %s: duplicate signal %q", msg.Name, sig.Name)
		}
		seen[sig.Name] = true
		if sig.Multiplexer {
			if msg.mux != nil {
				return nil, fmt.Errorf("message %s: more than one multiplexer signal", msg.Name)
			}
			msg.mux = sig
		}
		msg.Signals = append(msg.Signals, sig)
	}
	for _, sig := range msg.Signals {
		if sig.Multiplexed && msg.mux == nil {
			return nil, fmt.Errorf("message %s: signal %s is multiplexed but no multiplexer is defined", msg.Name, sig.Name)
		}
	}
	return msg, nil
}

// FrameID is the CAN identifier the message travels under.
func (m *Message) FrameID() uint32 {
	return m.ID
}

func (m *Message) IsExtended() bool {
	return m.Extended
}

func (m *Message) signal(name string) *Signal {
	for _, s := range m.Signals {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Signal returns the named signal or nil.
func (m *Message) Signal(name string) *Signal {
	return m.signal(name)
}

// active reports whether s is present in a payload carrying multiplexer
// value muxValue.
func (m *Message) active(s *Signal, muxValue uint64) bool {
	return !s.Multiplexed || s.MuxValue == muxValue
}

// Decode unpacks every signal present in data. Multiplexed signals are only
// returned when the multiplexer selects them.
func (m *Message) Decode(data []byte) (Fields, error) {
	if len(data) < int(m.Length) {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrShortPayload, m.Name, m.Length, len(data))
	}
	var d can.Data
	copy(d[:], data)

	var muxValue uint64
	if m.mux != nil {
		muxValue = m.mux.unsigned(&d)
	}
	out := make(Fields, len(m.Signals))
	for _, s := range m.Signals {
		if !m.active(s, muxValue) {
			continue
		}
		out[s.Name] = s.decode(&d)
	}
	return out, nil
}

// Encode packs fields into a payload of Length bytes. Every signal the
// multiplexer selects must be present; names that match no signal are
// ignored.
func (m *Message) Encode(fields Fields) ([]byte, error) {
	var d can.Data

	var muxValue uint64
	if m.mux != nil {
		v, ok := fields[m.mux.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingSignal, m.Name, m.mux.Name)
		}
		raw, err := m.mux.rawValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", m.Name, m.mux.Name, err)
		}
		muxValue = raw
	}

	var missing []string
	for _, s := range m.Signals {
		if !m.active(s, muxValue) {
			continue
		}
		v, ok := fields[s.Name]
		if !ok {
			missing = append(missing, s.Name)
			continue
		}
		raw, err := s.rawValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", m.Name, s.Name, err)
		}
		s.put(&d, raw)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s.{%s}", ErrMissingSignal, m.Name, strings.Join(missing, ","))
	}

	out := make([]byte, m.Length)
	copy(out, d[:m.Length])
	return out, nil
}
