// Package streamio is a small registry of input sources and output sinks
// that move values in and out of the manager: mocks for tests, the CAN bus
// itself, and storage sinks for decoded messages.
package streamio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownType    = errors.New("streamio: unknown type")
	ErrNotInitialized = errors.New("streamio: sink not initialized")
	ErrBadParam       = errors.New("streamio: bad parameter")
)

// InputSource produces values. Read returns the next value and hands it to
// the registered callback, if any.
type InputSource interface {
	Initialize(ctx context.Context) error
	Read() (any, error)
	RegisterCallback(fn func(any))
	Shutdown() error
}

// OutputSink consumes values. Write fails with ErrNotInitialized until
// Initialize has succeeded, and again after Shutdown.
type OutputSink interface {
	Initialize(ctx context.Context) error
	Write(v any) error
	Shutdown() error
}

type (
	SourceFactory func(params Params) (InputSource, error)
	SinkFactory   func(params Params) (OutputSink, error)
)

var (
	registryMu sync.RWMutex
	sources    = make(map[string]SourceFactory)
	sinks      = make(map[string]SinkFactory)
)

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterSource makes a source type available to NewSource. Names are
// matched case-insensitively.
func RegisterSource(name string, fn SourceFactory) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := sources[key(name)]; found {
		return fmt.Errorf("source %s already registered", name)
	}
	sources[key(name)] = fn
	return nil
}

// RegisterSink makes a sink type available to NewSink.
func RegisterSink(name string, fn SinkFactory) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := sinks[key(name)]; found {
		return fmt.Errorf("sink %s already registered", name)
	}
	sinks[key(name)] = fn
	return nil
}

func NewSource(typeName string, params Params) (InputSource, error) {
	registryMu.RLock()
	fn, found := sources[key(typeName)]
	registryMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, typeName)
	}
	return fn(params)
}

func NewSink(typeName string, params Params) (OutputSink, error) {
	registryMu.RLock()
	fn, found := sinks[key(typeName)]
	registryMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, typeName)
	}
	return fn(params)
}

func SourceTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(sources)
}

func SinkTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(sinks)
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mustRegisterSource(fn SourceFactory, names ...string) {
	for _, n := range names {
		if err := RegisterSource(n, fn); err != nil {
			panic(err)
		}
	}
}

func mustRegisterSink(fn SinkFactory, names ...string) {
	for _, n := range names {
		if err := RegisterSink(n, fn); err != nil {
			panic(err)
		}
	}
}

// MultiSink fans every write out to all sinks and joins their errors.
type MultiSink []OutputSink

func (ms MultiSink) Initialize(ctx context.Context) error {
	for i, s := range ms {
		if err := s.Initialize(ctx); err != nil {
			for _, done := range ms[:i] {
				_ = done.Shutdown()
			}
			return err
		}
	}
	return nil
}

func (ms MultiSink) Write(v any) error {
	var errs []error
	for _, s := range ms {
		if err := s.Write(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ms MultiSink) Shutdown() error {
	var errs []error
	for i := len(ms) - 1; i >= 0; i-- {
		if err := ms[i].Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
