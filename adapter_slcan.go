package canman

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.bug.st/serial"
)

const defaultSLCanBaudrate = 115200

type SLCan struct {
	*BaseAdapter
	port serial.Port
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "slcan",
		Description:        "Canable/Lawicel compatible serial-line CAN adapter",
		RequiresSerialPort: true,
		Capabilities: AdapterCapabilities{
			HSCAN: true,
			KLine: false,
			SWCAN: false,
		},
		New: NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = defaultSLCanBaudrate
	}
	return &SLCan{
		BaseAdapter: NewBaseAdapter("slcan", cfg),
	}, nil
}

// slcanRate returns the setup command for a bitrate given in kbit/s.
func slcanRate(kbit float64) (string, error) {
	switch kbit {
	case 10:
		return "S0", nil
	case 20:
		return "S1", nil
	case 50:
		return "S2", nil
	case 100:
		return "S3", nil
	case 125:
		return "S4", nil
	case 250:
		return "S5", nil
	case 500:
		return "S6", nil
	case 800:
		return "S7", nil
	case 1000:
		return "S8", nil
	case 47.619:
		// BTR0 0xCB, BTR1 0x9A
		return "scb9a", nil
	case 615.384:
		return "s4037", nil
	}
	return "", fmt.Errorf("%w: slcan does not support %g kbit/s", ErrInvalidBitrate, kbit)
}

func (sl *SLCan) Open(ctx context.Context) error {
	rate, err := slcanRate(sl.cfg.CANRate)
	if err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q: %w", sl.cfg.Port, err)
	}
	if err := p.SetReadTimeout(3 * time.Millisecond); err != nil {
		p.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	// close any channel left open by a previous session before configuring
	for _, cmd := range []string{"C", rate, "O"} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write %q to com port: %w", cmd, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	go sl.sendManager(ctx)
	go sl.recvManager(ctx)
	return nil
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed() {
				sl.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	var outBuf = make([]byte, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case frame := <-sl.sendChan:
			outBuf = encodeSLCanFrame(outBuf[:0], frame)
			if _, err := sl.port.Write(outBuf); err != nil {
				sl.Error(fmt.Errorf("failed to write to com port: %w", err))
				continue
			}
			sl.sent(frame)
			if sl.cfg.Debug {
				sl.Debug(">> " + string(outBuf))
			}
		}
	}
}

// encodeSLCanFrame appends frame in slcan notation to buf:
// 't' iii l dd.. '\r' for 11-bit and 'T' iiiiiiii l dd.. '\r' for 29-bit.
// Remote frames use 'r'/'R' and carry no data.
func encodeSLCanFrame(buf []byte, frame *CANFrame) []byte {
	switch {
	case frame.Extended && frame.RTR:
		buf = append(buf, 'R')
	case frame.Extended:
		buf = append(buf, 'T')
	case frame.RTR:
		buf = append(buf, 'r')
	default:
		buf = append(buf, 't')
	}
	digits := 3
	id := frame.Identifier & maxStdID
	if frame.Extended {
		digits = 8
		id = frame.Identifier & maxExtID
	}
	for i := digits - 1; i >= 0; i-- {
		buf = append(buf, nybbleToHex(byte(id>>(uint(i)*4))&0xF))
	}
	dlc := min(frame.DLC(), maxDataLen)
	buf = append(buf, nybbleToHex(byte(dlc)))
	if !frame.RTR {
		for i := range dlc {
			buf = append(buf, nybbleToHex(frame.Data[i]>>4), nybbleToHex(frame.Data[i]&0xF))
		}
	}
	return append(buf, '\r')
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) == 0 {
				continue
			}
			switch buf[0] {
			case 't', 'T', 'r', 'R':
				f, err := decodeSLCanFrame(buf)
				if err != nil {
					sl.Error(fmt.Errorf("%w: %q", err, buf))
					break
				}
				sl.deliver(f)
			case 'F':
				if err := checkStatus(buf); err != nil {
					sl.Error(err)
				}
			case 'z', 'Z':
				// transmit ack
			default:
				sl.Warn("unknown slcan message: " + string(buf))
			}
			buf = buf[:0]
		case 0x07:
			sl.Warn("slcan command rejected")
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func decodeSLCanFrame(buff []byte) (*CANFrame, error) {
	idLen := 3
	extended := buff[0] == 'T' || buff[0] == 'R'
	rtr := buff[0] == 'r' || buff[0] == 'R'
	if extended {
		idLen = 8
	}
	if len(buff) < 1+idLen+1 {
		return nil, fmt.Errorf("%w: short slcan frame", ErrInvalidFrame)
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %w", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %w", err)
	}
	if dataLen > maxDataLen {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidFrame, dataLen)
	}
	frame := NewFrame(uint32(id), nil, Incoming)
	frame.Extended = extended
	frame.RTR = rtr
	if rtr {
		return frame, nil
	}
	start := 2 + idLen
	end := start + int(dataLen)*2
	if len(buff) < end {
		return nil, fmt.Errorf("%w: frame body shorter than dlc %d", ErrInvalidFrame, dataLen)
	}
	data, err := hex.DecodeString(string(buff[start:end]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %w", err)
	}
	frame.Data = data
	return frame, nil
}
