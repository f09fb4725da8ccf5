package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/roffe/canman"
	"github.com/roffe/canman/pkg/dbc"
)

// fakeBus hands out queued frames, then the empty sentinel. With recvErr
// set, call number recvErrAt fails instead.
type fakeBus struct {
	queue     []*canman.CANFrame
	recvErrAt int
	recvErr   error
	endless   bool
	recvCalls int

	sent    []*canman.CANFrame
	sendErr error

	stats    canman.Stats
	statsErr error
	closed   bool
}

func (b *fakeBus) Recv(time.Duration) (*canman.CANFrame, error) {
	b.recvCalls++
	if b.recvErr != nil && b.recvCalls == b.recvErrAt {
		return nil, b.recvErr
	}
	if b.endless {
		return canman.NewFrame(0x7FF, []byte{byte(b.recvCalls)}, canman.Incoming), nil
	}
	if len(b.queue) == 0 {
		return nil, nil
	}
	f := b.queue[0]
	b.queue = b.queue[1:]
	return f, nil
}

func (b *fakeBus) Send(f *canman.CANFrame) error {
	b.sent = append(b.sent, f)
	return b.sendErr
}

func (b *fakeBus) Stats() (canman.Stats, error) {
	return b.stats, b.statsErr
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

type decodeCall struct {
	id   uint32
	data []byte
}

type fakeDB struct {
	decode      func(id uint32, data []byte) (dbc.Fields, error)
	decodeCalls []decodeCall
	messages    map[string]*fakeMessage
}

func (d *fakeDB) MessageByName(name string) (MessageDef, error) {
	if m, ok := d.messages[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w %q", dbc.ErrUnknownMessage, name)
}

func (d *fakeDB) Decode(id uint32, data []byte) (dbc.Fields, error) {
	d.decodeCalls = append(d.decodeCalls, decodeCall{id, data})
	if d.decode == nil {
		return nil, errors.New("no decoder")
	}
	return d.decode(id, data)
}

type fakeMessage struct {
	id        uint32
	payload   []byte
	err       error
	gotFields []dbc.Fields
}

func (m *fakeMessage) FrameID() uint32 {
	return m.id
}

func (m *fakeMessage) Encode(fields dbc.Fields) ([]byte, error) {
	m.gotFields = append(m.gotFields, fields)
	if m.err != nil {
		return nil, m.err
	}
	return m.payload, nil
}
