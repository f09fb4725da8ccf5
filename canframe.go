package canman

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

type CANFrameType struct {
	Type      int
	Responses int
}

var (
	Incoming = CANFrameType{Type: 0, Responses: 0}
	Outgoing = CANFrameType{Type: 1, Responses: 0}
)

const (
	maxStdID   = 0x7FF
	maxExtID   = 0x1FFFFFFF
	maxDataLen = 8
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	RTR        bool
	Data       []byte
	FrameType  CANFrameType
}

// NewExtendedFrame creates a new 29-bit CANFrame and copies the data slice
func NewExtendedFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	frame := NewFrame(identifier, data, frameType)
	frame.Extended = true
	return frame
}

// NewFrame creates a new CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Data:       d,
		FrameType:  frameType,
	}
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// Validate checks the identifier against the 11/29-bit range and the data
// length against classical CAN.
func (f *CANFrame) Validate() error {
	if len(f.Data) > maxDataLen {
		return fmt.Errorf("%w: data length %d", ErrInvalidFrame, len(f.Data))
	}
	limit := uint32(maxStdID)
	if f.Extended {
		limit = maxExtID
	}
	if f.Identifier > limit {
		return fmt.Errorf("%w: identifier 0x%X out of range", ErrInvalidFrame, f.Identifier)
	}
	return nil
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) direction() string {
	switch f.FrameType.Type {
	case 0:
		return "<i> || "
	case 1:
		return "<o> || "
	}
	return ""
}

func (f *CANFrame) id() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *CANFrame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-23s", hexView.String())
}

func (f *CANFrame) binView() string {
	var binView strings.Builder
	for i, b := range f.Data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.Data)-1 {
			binView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-72s", binView.String())
}

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(f.id() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(f.binView())
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(green("%s", f.id()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(red("%s", f.binView()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
