package canman

import (
	"context"
	"sync"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "virtual",
		Description:        "In-memory loopback bus, adapters on the same channel see each other",
		RequiresSerialPort: false,
		Capabilities: AdapterCapabilities{
			HSCAN: true,
			KLine: false,
			SWCAN: true,
		},
		New: NewVirtual,
	}); err != nil {
		panic(err)
	}
}

var virtualNet = struct {
	mu    sync.Mutex
	buses map[string]*virtualBus
}{buses: make(map[string]*virtualBus)}

type virtualBus struct {
	channel string
	mu      sync.RWMutex
	members map[*Virtual]struct{}
}

func joinVirtual(channel string, v *Virtual) *virtualBus {
	virtualNet.mu.Lock()
	defer virtualNet.mu.Unlock()
	vb, ok := virtualNet.buses[channel]
	if !ok {
		vb = &virtualBus{channel: channel, members: make(map[*Virtual]struct{})}
		virtualNet.buses[channel] = vb
	}
	vb.mu.Lock()
	vb.members[v] = struct{}{}
	vb.mu.Unlock()
	return vb
}

func (vb *virtualBus) leave(v *Virtual) {
	virtualNet.mu.Lock()
	defer virtualNet.mu.Unlock()
	vb.mu.Lock()
	delete(vb.members, v)
	empty := len(vb.members) == 0
	vb.mu.Unlock()
	if empty && virtualNet.buses[vb.channel] == vb {
		delete(virtualNet.buses, vb.channel)
	}
}

// broadcast hands frame to every member except the sender. The member set is
// snapshotted so delivery never runs under the bus lock.
func (vb *virtualBus) broadcast(from *Virtual, frame *CANFrame) {
	vb.mu.RLock()
	targets := make([]*Virtual, 0, len(vb.members))
	for m := range vb.members {
		if m != from {
			targets = append(targets, m)
		}
	}
	vb.mu.RUnlock()

	for _, t := range targets {
		if !t.accepts(frame.Identifier) {
			continue
		}
		in := NewFrame(frame.Identifier, frame.Data, Incoming)
		in.Extended = frame.Extended
		in.RTR = frame.RTR
		t.deliver(in)
	}
}

// Virtual is a software adapter used for tests and simulations.
type Virtual struct {
	*BaseAdapter
	bus     *virtualBus
	filter  map[uint32]struct{}
	closeMu sync.Mutex
	stopped chan struct{}
}

func NewVirtual(cfg *AdapterConfig) (Adapter, error) {
	v := &Virtual{
		BaseAdapter: NewBaseAdapter("virtual", cfg),
		stopped:     make(chan struct{}),
	}
	if len(cfg.CANFilter) > 0 {
		v.filter = make(map[uint32]struct{}, len(cfg.CANFilter))
		for _, id := range cfg.CANFilter {
			v.filter[id] = struct{}{}
		}
	}
	return v, nil
}

func (v *Virtual) accepts(id uint32) bool {
	if v.filter == nil {
		return true
	}
	_, ok := v.filter[id]
	return ok
}

func (v *Virtual) Open(ctx context.Context) error {
	v.bus = joinVirtual(v.cfg.Port, v)
	go v.sendManager(ctx)
	return nil
}

// Close stops the send loop, then flushes what is still queued so every
// frame accepted by Send reaches the bus.
func (v *Virtual) Close() error {
	v.closeMu.Lock()
	defer v.closeMu.Unlock()
	v.BaseAdapter.Close()
	if v.bus == nil {
		return nil
	}
	<-v.stopped
flush:
	for {
		select {
		case frame := <-v.sendChan:
			v.transmit(frame)
		default:
			break flush
		}
	}
	v.bus.leave(v)
	v.bus = nil
	return nil
}

func (v *Virtual) transmit(frame *CANFrame) {
	v.sent(frame)
	v.bus.broadcast(v, frame)
}

// sendManager owns v.bus until it returns; Close waits for that before
// leaving the bus.
func (v *Virtual) sendManager(ctx context.Context) {
	defer close(v.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			v.transmit(frame)
		}
	}
}
