package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roffe/canman"
	"github.com/roffe/canman/pkg/dbc"
	"github.com/roffe/canman/pkg/observability"
)

func speedDecoder(id uint32, data []byte) (dbc.Fields, error) {
	if id == 0x100 {
		return dbc.Fields{"speed": int64(data[0])}, nil
	}
	return nil, fmt.Errorf("%w 0x%X", dbc.ErrUnknownFrame, id)
}

func TestLoadDatabase(t *testing.T) {
	want := &fakeDB{}
	var gotPath []string
	m := New(WithLoader(func(path string) (Database, error) {
		gotPath = append(gotPath, path)
		return want, nil
	}))
	db, err := m.LoadDatabase("vehicle.dbc")
	if err != nil {
		t.Fatalf("LoadDatabase() error = %v", err)
	}
	if db != want {
		t.Errorf("LoadDatabase() = %v, want loader handle", db)
	}
	if len(gotPath) != 1 || gotPath[0] != "vehicle.dbc" {
		t.Errorf("loader calls = %v, want [vehicle.dbc]", gotPath)
	}
}

func TestLoadDatabase_Errors(t *testing.T) {
	parseErr := &dbc.ParseError{File: "bad.dbc", Err: errors.New("unexpected token")}
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", &fs.PathError{Op: "open", Path: "x.dbc", Err: fs.ErrNotExist}, func(err error) bool {
			return errors.Is(err, fs.ErrNotExist)
		}},
		{"parse", parseErr, func(err error) bool {
			var pe *dbc.ParseError
			return errors.As(err, &pe) && pe == parseErr
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			m := New(WithLoader(func(string) (Database, error) {
				calls++
				return nil, tt.err
			}))
			db, err := m.LoadDatabase("x.dbc")
			if db != nil {
				t.Errorf("LoadDatabase() = %v, want nil", db)
			}
			if !tt.check(err) {
				t.Errorf("LoadDatabase() error = %v, lost its kind", err)
			}
			if stage, ok := StageOf(err); !ok || stage != StageLoad {
				t.Errorf("StageOf() = %q, %v, want load", stage, ok)
			}
			if calls != 1 {
				t.Errorf("loader called %d times, want 1", calls)
			}
		})
	}
}

func TestOpenBus(t *testing.T) {
	cfg := canman.BusConfig{Interface: "virtual", Channel: "1", Bitrate: 250000}
	var got []canman.BusConfig
	bus := &fakeBus{}
	m := New(WithOpener(func(_ context.Context, c canman.BusConfig) (Bus, error) {
		got = append(got, c)
		return bus, nil
	}))
	b, err := m.OpenBus(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenBus() error = %v", err)
	}
	if b != bus {
		t.Error("OpenBus() did not return the opener's bus")
	}
	if len(got) != 1 || got[0] != cfg {
		t.Errorf("opener calls = %+v, want [%+v]", got, cfg)
	}

	calls := 0
	m = New(WithOpener(func(context.Context, canman.BusConfig) (Bus, error) {
		calls++
		return nil, canman.ErrInvalidBitrate
	}))
	if _, err := m.OpenBus(context.Background(), cfg); !errors.Is(err, canman.ErrInvalidBitrate) {
		t.Errorf("OpenBus() error = %v, want ErrInvalidBitrate", err)
	}
	if calls != 1 {
		t.Errorf("opener called %d times, want 1", calls)
	}
}

func TestOpenBus_DefaultOpener(t *testing.T) {
	m := New()
	_, err := m.OpenBus(context.Background(), canman.BusConfig{Interface: "pigeon", Channel: "0", Bitrate: 500000})
	if !errors.Is(err, canman.ErrUnknownAdapter) {
		t.Errorf("OpenBus() error = %v, want ErrUnknownAdapter", err)
	}
	if stage, _ := StageOf(err); stage != StageOpen {
		t.Errorf("StageOf() = %q, want open", stage)
	}
}

func TestReceiveMessages_Empty(t *testing.T) {
	bus := &fakeBus{}
	db := &fakeDB{decode: speedDecoder}
	res, err := New().ReceiveMessages(bus, db)
	if err != nil {
		t.Fatalf("ReceiveMessages() error = %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("ReceiveMessages() = %v, want empty non-nil result", res)
	}
	if bus.recvCalls != 1 {
		t.Errorf("recv calls = %d, want 1", bus.recvCalls)
	}
	if len(db.decodeCalls) != 0 {
		t.Errorf("decode calls = %d, want 0", len(db.decodeCalls))
	}
}

func TestReceiveMessages_IsolatesDecodeFailures(t *testing.T) {
	sink := &recordSink{}
	bus := &fakeBus{queue: []*canman.CANFrame{
		canman.NewFrame(0x100, []byte{88}, canman.Incoming),
		canman.NewFrame(0x200, []byte{1, 2}, canman.Incoming),
	}}
	db := &fakeDB{decode: speedDecoder}
	m := New(WithLogger(slog.New(sink)))

	res, err := m.ReceiveMessages(bus, db)
	if err != nil {
		t.Fatalf("ReceiveMessages() error = %v", err)
	}
	if len(res) != 1 || res[0x100]["speed"] != int64(88) {
		t.Errorf("ReceiveMessages() = %v, want {0x100: {speed: 88}}", res)
	}
	if _, ok := res[0x200]; ok {
		t.Error("undecodable id present in result")
	}
	if len(db.decodeCalls) != 2 {
		t.Errorf("decode calls = %d, want 2", len(db.decodeCalls))
	}
	if db.decodeCalls[1].id != 0x200 || !bytes.Equal(db.decodeCalls[1].data, []byte{1, 2}) {
		t.Errorf("second decode call = %+v", db.decodeCalls[1])
	}
	if bus.recvCalls < 3 {
		t.Errorf("recv calls = %d, want at least 3", bus.recvCalls)
	}
	if m.DecodeFailures() != 1 {
		t.Errorf("DecodeFailures() = %d, want 1", m.DecodeFailures())
	}
	if !hasSlogMsg(sink.records, slog.LevelDebug, "skipping frame") {
		t.Error("decode failure not logged at debug")
	}
}

func TestReceiveMessages_LaterFrameWins(t *testing.T) {
	bus := &fakeBus{queue: []*canman.CANFrame{
		canman.NewFrame(0x100, []byte{10}, canman.Incoming),
		canman.NewFrame(0x100, []byte{20}, canman.Incoming),
	}}
	res, err := New().ReceiveMessages(bus, &fakeDB{decode: speedDecoder})
	if err != nil {
		t.Fatalf("ReceiveMessages() error = %v", err)
	}
	if res[0x100]["speed"] != int64(20) {
		t.Errorf("speed = %v, want 20", res[0x100]["speed"])
	}
}

func TestReceiveMessages_RecvError(t *testing.T) {
	bus := &fakeBus{
		queue: []*canman.CANFrame{
			canman.NewFrame(0x100, []byte{5}, canman.Incoming),
			canman.NewFrame(0x100, []byte{6}, canman.Incoming),
		},
		recvErrAt: 2,
		recvErr:   canman.ErrClosed,
	}
	res, err := New().ReceiveMessages(bus, &fakeDB{decode: speedDecoder})
	if !errors.Is(err, canman.ErrClosed) {
		t.Fatalf("ReceiveMessages() error = %v, want ErrClosed", err)
	}
	if stage, _ := StageOf(err); stage != StageRecv {
		t.Errorf("StageOf() = %q, want recv", stage)
	}
	if res[0x100]["speed"] != int64(5) {
		t.Errorf("partial result = %v, want speed 5", res)
	}
}

func TestReceiveMessages_FrameLimit(t *testing.T) {
	bus := &fakeBus{endless: true}
	db := &fakeDB{decode: func(uint32, []byte) (dbc.Fields, error) { return dbc.Fields{}, nil }}
	res, err := New(WithMaxFrames(5)).ReceiveMessages(bus, db)
	if err != nil {
		t.Fatalf("ReceiveMessages() error = %v", err)
	}
	// five drained plus one look past the limit
	if bus.recvCalls != 6 {
		t.Errorf("recv calls = %d, want 6", bus.recvCalls)
	}
	if len(res) != 1 {
		t.Errorf("ReceiveMessages() = %v, want one id", res)
	}
}

func TestReceiveMessages_LimitWarning(t *testing.T) {
	frames := func(n int) []*canman.CANFrame {
		var out []*canman.CANFrame
		for i := range n {
			out = append(out, canman.NewFrame(0x100, []byte{byte(i)}, canman.Incoming))
		}
		return out
	}
	tests := []struct {
		name     string
		queued   int
		wantWarn bool
		wantLeft int
	}{
		{"below limit", 1, false, 0},
		{"exactly at limit", 2, false, 0},
		{"one past limit", 3, true, 0},
		{"well past limit", 5, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordSink{}
			bus := &fakeBus{queue: frames(tt.queued)}
			m := New(WithMaxFrames(2), WithLogger(slog.New(sink)))
			res, err := m.ReceiveMessages(bus, &fakeDB{decode: speedDecoder})
			if err != nil {
				t.Fatalf("ReceiveMessages() error = %v", err)
			}
			if got := hasSlogMsg(sink.records, slog.LevelWarn, "receive drain stopped at frame limit"); got != tt.wantWarn {
				t.Errorf("limit warning = %v, want %v", got, tt.wantWarn)
			}
			if len(bus.queue) != tt.wantLeft {
				t.Errorf("frames left on bus = %d, want %d", len(bus.queue), tt.wantLeft)
			}
			if len(res) != 1 {
				t.Errorf("ReceiveMessages() = %v, want one id", res)
			}
		})
	}
}

func TestReceiveMessages_NilHandles(t *testing.T) {
	m := New()
	if _, err := m.ReceiveMessages(nil, &fakeDB{}); !errors.Is(err, ErrNoBus) {
		t.Errorf("nil bus error = %v", err)
	}
	if _, err := m.ReceiveMessages(&fakeBus{}, nil); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("nil database error = %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	msg := &fakeMessage{id: 0x500, payload: []byte{0x10, 0x20}}
	db := &fakeDB{messages: map[string]*fakeMessage{"Command": msg}}
	bus := &fakeBus{}
	fields := dbc.Fields{"mode": 1}

	if err := New().SendMessage(bus, db, "Command", fields); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(bus.sent))
	}
	f := bus.sent[0]
	if f.Identifier != 0x500 || !f.Extended || !bytes.Equal(f.Data, []byte{0x10, 0x20}) {
		t.Errorf("sent frame = %+v, want id 0x500 extended data 1020", f)
	}
	if len(msg.gotFields) != 1 || msg.gotFields[0]["mode"] != 1 {
		t.Errorf("Encode() fields = %v", msg.gotFields)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	encodeErr := fmt.Errorf("%w: Command.mode", dbc.ErrMissingSignal)
	tests := []struct {
		name      string
		message   string
		encodeErr error
		sendErr   error
		wantStage Stage
		wantErr   error
		wantSends int
	}{
		{"unknown message", "Nope", nil, nil, StageLookup, dbc.ErrUnknownMessage, 0},
		{"encode failure", "Command", encodeErr, nil, StageEncode, dbc.ErrMissingSignal, 0},
		{"transport failure", "Command", nil, canman.ErrSendTimeout, StageSend, canman.ErrSendTimeout, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMessage{id: 0x500, payload: []byte{1}, err: tt.encodeErr}
			db := &fakeDB{messages: map[string]*fakeMessage{"Command": msg}}
			bus := &fakeBus{sendErr: tt.sendErr}
			metrics := observability.NewMetrics()

			err := New(WithMetrics(metrics)).SendMessage(bus, db, tt.message, dbc.Fields{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.wantErr)
			}
			if stage, _ := StageOf(err); stage != tt.wantStage {
				t.Errorf("StageOf() = %q, want %q", stage, tt.wantStage)
			}
			if len(bus.sent) != tt.wantSends {
				t.Errorf("send calls = %d, want %d", len(bus.sent), tt.wantSends)
			}
			if got := testutil.ToFloat64(metrics.Errors.WithLabelValues(string(tt.wantStage))); got != 1 {
				t.Errorf("errors{%s} = %v, want 1", tt.wantStage, got)
			}
		})
	}
}

func TestBusStats(t *testing.T) {
	want := canman.Stats{Adapter: "virtual", RecvFrames: 7}
	st, err := New().BusStats(&fakeBus{stats: want})
	if err != nil || st != want {
		t.Errorf("BusStats() = %+v, %v, want %+v", st, err, want)
	}
	_, err = New().BusStats(&fakeBus{statsErr: canman.ErrClosed})
	if !errors.Is(err, canman.ErrClosed) {
		t.Errorf("BusStats() error = %v, want ErrClosed", err)
	}
	if stage, _ := StageOf(err); stage != StageStats {
		t.Errorf("StageOf() = %q, want stats", stage)
	}
}

func TestMetrics_Drain(t *testing.T) {
	metrics := observability.NewMetrics()
	bus := &fakeBus{queue: []*canman.CANFrame{
		canman.NewFrame(0x100, []byte{1}, canman.Incoming),
		canman.NewFrame(0x200, []byte{1}, canman.Incoming),
	}}
	if _, err := New(WithMetrics(metrics)).ReceiveMessages(bus, &fakeDB{decode: speedDecoder}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.FramesReceived); got != 2 {
		t.Errorf("frames received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.FramesDecoded.WithLabelValues("0x100")); got != 1 {
		t.Errorf("frames decoded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.DecodeFailures.WithLabelValues("unknown_frame")); got != 1 {
		t.Errorf("decode failures = %v, want 1", got)
	}
}

// Undecodable ids must not become label values, or garbage traffic would
// grow a series per id.
func TestMetrics_DecodeFailureLabels(t *testing.T) {
	metrics := observability.NewMetrics()
	var queue []*canman.CANFrame
	for id := uint32(0x1000); id < 0x1040; id++ {
		queue = append(queue, canman.NewExtendedFrame(id, []byte{1}, canman.Incoming))
	}
	queue = append(queue, canman.NewFrame(0x100, nil, canman.Incoming))
	db := &fakeDB{decode: func(id uint32, data []byte) (dbc.Fields, error) {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: 0x%X", dbc.ErrShortPayload, id)
		}
		return speedDecoder(id, data)
	}}
	if _, err := New(WithMetrics(metrics)).ReceiveMessages(&fakeBus{queue: queue}, db); err != nil {
		t.Fatal(err)
	}
	if n := testutil.CollectAndCount(metrics.DecodeFailures); n != 2 {
		t.Errorf("decode failure series = %d, want 2", n)
	}
	if got := testutil.ToFloat64(metrics.DecodeFailures.WithLabelValues("unknown_frame")); got != 64 {
		t.Errorf("unknown_frame failures = %v, want 64", got)
	}
	if got := testutil.ToFloat64(metrics.DecodeFailures.WithLabelValues("short_payload")); got != 1 {
		t.Errorf("short_payload failures = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(metrics.FramesDecoded); n != 0 {
		t.Errorf("decoded series = %d, want 0", n)
	}
}

const loopDBC = `BU_: ECU

BO_ 256 Speedo: 2 ECU
 SG_ Speed : 0|16@1+ (1,0) [0|300] "km/h" Vector__XXX
`

// TestManager_VirtualLoop sends through one virtual bus and drains the
// decoded message from a second bus on the same channel.
func TestManager_VirtualLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.dbc")
	if err := os.WriteFile(path, []byte(loopDBC), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(WithRecvTimeout(50 * time.Millisecond))
	db, err := m.LoadDatabase(path)
	if err != nil {
		t.Fatalf("LoadDatabase() error = %v", err)
	}
	cfg := canman.BusConfig{Interface: "virtual", Channel: "manager-loop", Bitrate: 500000}
	tx, err := m.OpenBus(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenBus() error = %v", err)
	}
	defer tx.Close()
	rx, err := m.OpenBus(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenBus() error = %v", err)
	}
	defer rx.Close()

	if err := m.SendMessage(tx, db, "Speedo", dbc.Fields{"Speed": 88}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	res, err := m.ReceiveMessages(rx, db)
	if err != nil {
		t.Fatalf("ReceiveMessages() error = %v", err)
	}
	if res[0x100]["Speed"] != int64(88) {
		t.Errorf("ReceiveMessages() = %v, want Speed 88 under 0x100", res)
	}
	st, err := m.BusStats(rx)
	if err != nil {
		t.Fatalf("BusStats() error = %v", err)
	}
	if st.RecvFrames != 1 {
		t.Errorf("RecvFrames = %d, want 1", st.RecvFrames)
	}
}
