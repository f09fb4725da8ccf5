package canman

import (
	"log"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
)

type BaseAdapter struct {
	name               string
	cfg                *AdapterConfig
	sendChan, recvChan chan *CANFrame

	errOnce sync.Once
	errChan chan error

	evtChan chan Event

	closeOnce sync.Once
	closeChan chan struct{}

	rxFrames, txFrames  atomic.Uint64
	rxBytes, txBytes    atomic.Uint64
	errCount, dropCount atomic.Uint64
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *CANFrame, 40),
		recvChan:  make(chan *CANFrame, 1024),
		errChan:   make(chan error, 1),
		evtChan:   make(chan Event, 100),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Return the send channel for the adapter
func (base *BaseAdapter) Send() chan<- *CANFrame {
	return base.sendChan
}

// Return the receive channel for the adapter
func (base *BaseAdapter) Recv() <-chan *CANFrame {
	return base.recvChan
}

// Return the error channel for the adapter
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

// Stats returns a snapshot of the adapter counters.
func (base *BaseAdapter) Stats() Stats {
	return Stats{
		Adapter:       base.name,
		RecvFrames:    base.rxFrames.Load(),
		SentFrames:    base.txFrames.Load(),
		RecvBytes:     base.rxBytes.Load(),
		SentBytes:     base.txBytes.Load(),
		Errors:        base.errCount.Load(),
		DroppedFrames: base.dropCount.Load(),
	}
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
		select {
		case base.errChan <- nil:
		default:
		}
	})
}

func (base *BaseAdapter) closed() bool {
	select {
	case <-base.closeChan:
		return true
	default:
		return false
	}
}

// deliver queues an incoming frame, counting it as dropped when the receive
// buffer is full.
func (base *BaseAdapter) deliver(frame *CANFrame) {
	select {
	case base.recvChan <- frame:
		base.rxFrames.Add(1)
		base.rxBytes.Add(uint64(len(frame.Data)))
	default:
		base.dropCount.Add(1)
		base.Error(ErrDroppedFrame)
	}
}

func (base *BaseAdapter) sent(frame *CANFrame) {
	base.txFrames.Add(1)
	base.txBytes.Add(uint64(len(frame.Data)))
}

// Set a fatal adapter error, meaning communication is broken and cannot continue.
func (base *BaseAdapter) Fatal(err error) {
	base.errCount.Add(1)
	base.errOnce.Do(func() {
		select {
		case base.errChan <- Unrecoverable(err):
		default:
			_, file, no, ok := runtime.Caller(1)
			if ok {
				log.Printf("%s:%d error channel full: %v\n", filepath.Base(file), no, err)
			} else {
				log.Printf("error channel full: %v", err)
			}
		}
	})
}

func (base *BaseAdapter) sendEvent(eventType EventType, details string) {
	select {
	case base.evtChan <- Event{Type: eventType, Details: details}:
	default:
		_, file, no, ok := runtime.Caller(1)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

// Send an error event
func (base *BaseAdapter) Error(err error) {
	base.errCount.Add(1)
	base.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (base *BaseAdapter) Info(info string) {
	base.sendEvent(EventTypeInfo, info)
}

// Send a debug event
func (base *BaseAdapter) Debug(debug string) {
	base.sendEvent(EventTypeDebug, debug)
}
