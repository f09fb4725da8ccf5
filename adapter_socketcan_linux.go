//go:build linux

package canman

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "socketcan",
		Description:        "Linux SocketCAN driver",
		RequiresSerialPort: false,
		Capabilities: AdapterCapabilities{
			HSCAN: true,
			KLine: false,
			SWCAN: true,
		},
		New: NewSocketCAN,
	}); err != nil {
		panic(err)
	}
}

type SocketCAN struct {
	*BaseAdapter
	d         *candevice.Device
	conn      net.Conn
	tx        *socketcan.Transmitter
	rx        *socketcan.Receiver
	broughtUp bool
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("socketcan", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	d, err := candevice.New(a.cfg.Port)
	if err != nil {
		return fmt.Errorf("socketcan device %q: %w", a.cfg.Port, err)
	}
	a.d = d

	up, err := d.IsUp()
	if err != nil {
		return fmt.Errorf("socketcan device %q state: %w", a.cfg.Port, err)
	}
	// an interface that is already up keeps its bitrate, changing it needs
	// the link down and CAP_NET_ADMIN
	if !up {
		if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
			return fmt.Errorf("socketcan set bitrate: %w", err)
		}
		if err := d.SetUp(); err != nil {
			return fmt.Errorf("socketcan set up: %w", err)
		}
		a.broughtUp = true
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		a.setDown()
		return fmt.Errorf("socketcan dial %q: %w", a.cfg.Port, err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager()
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) setDown() {
	if a.broughtUp && a.d != nil {
		if err := a.d.SetDown(); err != nil {
			a.cfg.OnMessage("socketcan set down: " + err.Error())
		}
	}
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	a.setDown()
	return err
}

func (a *SocketCAN) accepts(id uint32) bool {
	if len(a.cfg.CANFilter) == 0 {
		return true
	}
	for _, f := range a.cfg.CANFilter {
		if f == id {
			return true
		}
	}
	return false
}

func (a *SocketCAN) recvManager() {
	for a.rx.Receive() {
		if a.rx.HasErrorFrame() {
			a.Error(fmt.Errorf("socketcan error frame: %v", a.rx.ErrorFrame()))
			continue
		}
		f := a.rx.Frame()
		if !a.accepts(f.ID) {
			continue
		}
		frame := NewFrame(f.ID, f.Data[:f.Length], Incoming)
		frame.Extended = f.IsExtended
		frame.RTR = f.IsRemote
		a.deliver(frame)
	}
	if err := a.rx.Err(); err != nil && !a.closed() && !strings.Contains(err.Error(), "use of closed") {
		a.Fatal(fmt.Errorf("socketcan receive: %w", err))
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			frame := can.Frame{
				ID:         f.Identifier,
				Length:     uint8(f.DLC()),
				IsExtended: f.Extended || a.cfg.UseExtendedID,
				IsRemote:   f.RTR,
			}
			copy(frame.Data[:], f.Data)
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.Error(fmt.Errorf("socketcan send: %w", err))
				continue
			}
			a.sent(f)
		}
	}
}
