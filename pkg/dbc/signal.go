package dbc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
)

type Signal struct {
	Name string
	// Start is the DBC start bit: the LSB for little-endian signals and the
	// MSB for big-endian ones.
	Start     uint8
	Length    uint8
	BigEndian bool
	Signed    bool
	Scale     float64
	Offset    float64
	Min       float64
	Max       float64
	Unit      string

	Multiplexer bool
	Multiplexed bool
	MuxValue    uint64

	values map[int64]string
	labels map[string]int64
}

func compileSignal(def *dbc.SignalDef, msgLen uint8) (*Signal, error) {
	if def.Size == 0 || def.Size > 64 {
		return nil, fmt.Errorf("signal %s: invalid length %d", def.Name, def.Size)
	}
	s := &Signal{
		Name:        string(def.Name),
		Start:       uint8(def.StartBit),
		Length:      uint8(def.Size),
		BigEndian:   def.IsBigEndian,
		Signed:      def.IsSigned,
		Scale:       def.Factor,
		Offset:      def.Offset,
		Min:         def.Minimum,
		Max:         def.Maximum,
		Unit:        def.Unit,
		Multiplexer: def.IsMultiplexerSwitch,
		Multiplexed: def.IsMultiplexed,
		MuxValue:    def.MultiplexerSwitch,
	}
	if s.Scale == 0 {
		s.Scale = 1
	}
	if last := s.lastBit(def.StartBit); last >= uint64(msgLen)*8 {
		return nil, fmt.Errorf("signal %s: bits %d..%d overrun a %d byte payload", s.Name, def.StartBit, last, msgLen)
	}
	return s, nil
}

// lastBit returns the highest bit position the signal occupies, counting
// big-endian bits in their sawtooth byte order.
func (s *Signal) lastBit(start uint64) uint64 {
	if !s.BigEndian {
		return start + uint64(s.Length) - 1
	}
	msb := start/8*8 + (7 - start%8)
	return msb + uint64(s.Length) - 1
}

func (s *Signal) addValue(raw int64, label string) {
	if s.values == nil {
		s.values = make(map[int64]string)
		s.labels = make(map[string]int64)
	}
	s.values[raw] = label
	s.labels[label] = raw
}

// Labels returns the value descriptions ordered by raw value.
func (s *Signal) Labels() []string {
	raws := make([]int64, 0, len(s.values))
	for raw := range s.values {
		raws = append(raws, raw)
	}
	sort.Slice(raws, func(i, j int) bool { return raws[i] < raws[j] })
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = s.values[raw]
	}
	return out
}

func (s *Signal) unsigned(d *can.Data) uint64 {
	if s.BigEndian {
		return d.UnsignedBitsBigEndian(s.Start, s.Length)
	}
	return d.UnsignedBitsLittleEndian(s.Start, s.Length)
}

func (s *Signal) signed(d *can.Data) int64 {
	if s.BigEndian {
		return d.SignedBitsBigEndian(s.Start, s.Length)
	}
	return d.SignedBitsLittleEndian(s.Start, s.Length)
}

func (s *Signal) isBool() bool {
	return s.Length == 1 && !s.Signed && s.Scale == 1 && s.Offset == 0
}

func (s *Signal) isInteger() bool {
	return s.Scale == math.Trunc(s.Scale) && s.Offset == math.Trunc(s.Offset)
}

func (s *Signal) decode(d *can.Data) any {
	var raw int64
	var u uint64
	if s.Signed {
		raw = s.signed(d)
	} else {
		u = s.unsigned(d)
		raw = int64(u)
	}
	if label, ok := s.values[raw]; ok {
		return label
	}
	if s.isBool() {
		return raw != 0
	}
	if s.isInteger() && (s.Signed || raw >= 0) {
		return raw*int64(s.Scale) + int64(s.Offset)
	}
	if s.Signed {
		return float64(raw)*s.Scale + s.Offset
	}
	if s.Scale == 1 && s.Offset == 0 {
		// 64-bit unsigned with the top bit set
		return u
	}
	return float64(u)*s.Scale + s.Offset
}

// hasRange reports whether the DBC declares a usable [min|max]. Tools
// write [0|0] when no range applies.
func (s *Signal) hasRange() bool {
	return s.Max > s.Min
}

func (s *Signal) checkRange(phys float64) error {
	if s.hasRange() && (phys < s.Min || phys > s.Max) {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, phys, s.Min, s.Max)
	}
	return nil
}

// mask keeps the low Length bits.
func (s *Signal) mask(bits uint64) uint64 {
	if s.Length >= 64 {
		return bits
	}
	return bits & (1<<s.Length - 1)
}

// fitUnsigned returns the wire bits for a non-negative raw value.
func (s *Signal) fitUnsigned(u uint64) (uint64, error) {
	width := s.Length
	if s.Signed {
		width--
	}
	if width < 64 && u >= 1<<width {
		return 0, fmt.Errorf("%w: raw %d does not fit %d bits", ErrOutOfRange, u, s.Length)
	}
	return u, nil
}

// fitInt returns the wire bits for a raw value, two's complement when
// negative.
func (s *Signal) fitInt(i int64) (uint64, error) {
	if i >= 0 {
		return s.fitUnsigned(uint64(i))
	}
	if !s.Signed || (s.Length < 64 && i < -(1<<(s.Length-1))) {
		return 0, fmt.Errorf("%w: raw %d does not fit %d bits", ErrOutOfRange, i, s.Length)
	}
	return s.mask(uint64(i)), nil
}

// fitFloat is fitInt for a rounded raw value. Both bounds are exclusive
// powers of two so a value that rounded up to 2^Length is refused.
func (s *Signal) fitFloat(raw float64) (uint64, error) {
	if s.Signed {
		half := math.Ldexp(1, int(s.Length)-1)
		if raw < -half || raw >= half {
			return 0, fmt.Errorf("%w: raw %v does not fit %d bits", ErrOutOfRange, raw, s.Length)
		}
		return s.mask(uint64(int64(raw))), nil
	}
	if raw < 0 || raw >= math.Ldexp(1, int(s.Length)) {
		return 0, fmt.Errorf("%w: raw %v does not fit %d bits", ErrOutOfRange, raw, s.Length)
	}
	return uint64(raw), nil
}

// integerRaw encodes integers without going through float64, which only
// holds 53 bits. ok is false when v is not an integer and the caller should
// fall back to the scaled path.
func (s *Signal) integerRaw(v any) (bits uint64, ok bool, err error) {
	var i int64
	var u uint64
	var unsigned bool
	switch x := v.(type) {
	case uint, uint8, uint16, uint32, uint64:
		u, unsigned = cast.ToUint64(x), true
	case int, int8, int16, int32, int64:
		i = cast.ToInt64(x)
	case string:
		if strings.Contains(x, ".") {
			return 0, false, nil
		}
		if n, err := cast.ToInt64E(x); err == nil {
			i = n
		} else if n, err := cast.ToUint64E(x); err == nil {
			u, unsigned = n, true
		} else {
			return 0, false, nil
		}
	default:
		return 0, false, nil
	}
	if unsigned {
		if err := s.checkRange(float64(u)); err != nil {
			return 0, true, err
		}
		bits, err = s.fitUnsigned(u)
		return bits, true, err
	}
	if err := s.checkRange(float64(i)); err != nil {
		return 0, true, err
	}
	bits, err = s.fitInt(i)
	return bits, true, err
}

// rawValue converts a physical value, or a value description label, into
// the bits stored on the wire.
func (s *Signal) rawValue(v any) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: nil", ErrBadValue)
	}
	if label, ok := v.(string); ok {
		if raw, ok := s.labels[label]; ok {
			return s.fitInt(raw)
		}
	}
	if s.Scale == 1 && s.Offset == 0 {
		if bits, ok, err := s.integerRaw(v); ok {
			return bits, err
		}
	}

	var phys float64
	switch x := v.(type) {
	case string:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is neither a number nor a label", ErrBadValue, x)
		}
		phys = f
	case bool:
		if x {
			phys = 1
		}
	default:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return 0, fmt.Errorf("%w: %v (%T)", ErrBadValue, x, x)
		}
		phys = f
	}
	if math.IsNaN(phys) || math.IsInf(phys, 0) {
		return 0, fmt.Errorf("%w: %v", ErrBadValue, phys)
	}
	if err := s.checkRange(phys); err != nil {
		return 0, err
	}
	return s.fitFloat(math.Round((phys - s.Offset) / s.Scale))
}

func (s *Signal) put(d *can.Data, bits uint64) {
	if s.BigEndian {
		d.SetUnsignedBitsBigEndian(s.Start, s.Length, bits)
		return
	}
	d.SetUnsignedBitsLittleEndian(s.Start, s.Length, bits)
}
