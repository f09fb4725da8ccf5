package streamio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource(t *testing.T) {
	src, err := NewSource("MockInputSource", Params{})
	require.NoError(t, err)
	mock, ok := src.(*MockInputSource)
	require.True(t, ok, "NewSource() = %T, want *MockInputSource", src)
	assert.Empty(t, mock.Log())
	assert.False(t, mock.HasCallback())

	_, err = NewSource("invalid_type", Params{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink("MockOutputSink", Params{})
	require.NoError(t, err)
	mock, ok := sink.(*MockOutputSink)
	require.True(t, ok, "NewSink() = %T, want *MockOutputSink", sink)
	assert.Empty(t, mock.Log())
	assert.False(t, mock.Initialized())

	_, err = NewSink("invalid_type", Params{})
	assert.ErrorIs(t, err, ErrUnknownType)

	// names are case-insensitive and have snake_case aliases
	_, err = NewSink("mock_OUTPUT", nil)
	assert.NoError(t, err)
}

func TestRegister_Duplicate(t *testing.T) {
	assert.Error(t, RegisterSink("sqlite", nil))
	assert.Error(t, RegisterSource("MOCKINPUTSOURCE", nil))
	assert.Contains(t, SinkTypes(), "redis")
	assert.Contains(t, SourceTypes(), "can")
}

func newMockSource(t *testing.T) *MockInputSource {
	t.Helper()
	src, err := NewMockInputSource(Params{"output": []any{"Fake data #1", "Fake data #2"}})
	require.NoError(t, err)
	return src
}

func TestMockInputSource_Read(t *testing.T) {
	src := newMockSource(t)

	v, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, "Fake data #1", v)
	assert.Equal(t, []any{"Fake data #1"}, src.Log())

	_, err = src.Read()
	require.NoError(t, err)
	assert.Equal(t, []any{"Fake data #1", "Fake data #2"}, src.Log())

	_, err = src.Read()
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, src.Log(), 2)
}

func TestMockInputSource_Callback(t *testing.T) {
	src := newMockSource(t)
	var got []any
	src.RegisterCallback(func(v any) { got = append(got, v) })
	assert.True(t, src.HasCallback())

	_, _ = src.Read()
	_, _ = src.Read()
	assert.Equal(t, []any{"Fake data #1", "Fake data #2"}, got)
	assert.Equal(t, got, src.Log())

	require.NoError(t, src.Initialize(context.Background()))
	require.NoError(t, src.Shutdown())
}

func TestMockInputSource_BadOutput(t *testing.T) {
	_, err := NewMockInputSource(Params{"output": 5})
	assert.ErrorIs(t, err, ErrBadParam)
}

func TestMockOutputSink(t *testing.T) {
	sink := NewMockOutputSink(nil)

	assert.ErrorIs(t, sink.Write("Test data"), ErrNotInitialized)

	require.NoError(t, sink.Initialize(context.Background()))
	assert.True(t, sink.Initialized())
	require.NoError(t, sink.Write("Test data 1"))
	require.NoError(t, sink.Write("Test data 2"))
	assert.Equal(t, []any{"Test data 1", "Test data 2"}, sink.Log())

	require.NoError(t, sink.Shutdown())
	assert.False(t, sink.Initialized())
	assert.ErrorIs(t, sink.Write("late"), ErrNotInitialized)
}

type failingSink struct {
	MockOutputSink
	initErr, writeErr error
	shutdowns         int
}

func (f *failingSink) Initialize(ctx context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	return f.MockOutputSink.Initialize(ctx)
}

func (f *failingSink) Write(v any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.MockOutputSink.Write(v)
}

func (f *failingSink) Shutdown() error {
	f.shutdowns++
	return f.MockOutputSink.Shutdown()
}

func TestMultiSink(t *testing.T) {
	ok := &failingSink{}
	bad := &failingSink{writeErr: errors.New("disk full")}
	ms := MultiSink{ok, bad}

	require.NoError(t, ms.Initialize(context.Background()))
	err := ms.Write("v")
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, []any{"v"}, ok.Log())

	require.NoError(t, ms.Shutdown())
	assert.Equal(t, 1, ok.shutdowns)
	assert.Equal(t, 1, bad.shutdowns)
}

func TestMultiSink_InitFailure(t *testing.T) {
	first := &failingSink{}
	second := &failingSink{initErr: errors.New("refused")}
	ms := MultiSink{first, second}

	assert.ErrorContains(t, ms.Initialize(context.Background()), "refused")
	assert.Equal(t, 1, first.shutdowns, "already initialized sinks are shut down")
	assert.False(t, first.Initialized())
}

func TestParams(t *testing.T) {
	p := Params{"n": "12", "d": "250ms", "s": 5, "bad": []int{1}}

	n, err := p.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = p.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	d, err := p.Duration("d", 0)
	require.NoError(t, err)
	assert.Equal(t, "250ms", d.String())

	s, err := p.String("s", "")
	require.NoError(t, err)
	assert.Equal(t, "5", s)

	_, err = p.Int("bad", 0)
	assert.ErrorIs(t, err, ErrBadParam)
}
