package streamio

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Params carries the type specific settings a factory is created with, as
// read from the sinks section of the config file.
type Params map[string]any

func (p Params) String(k, def string) (string, error) {
	v, ok := p[k]
	if !ok || v == nil {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrBadParam, k, err)
	}
	return s, nil
}

func (p Params) Int(k string, def int) (int, error) {
	v, ok := p[k]
	if !ok || v == nil {
		return def, nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w %s: %v", ErrBadParam, k, err)
	}
	return i, nil
}

func (p Params) Duration(k string, def time.Duration) (time.Duration, error) {
	v, ok := p[k]
	if !ok || v == nil {
		return def, nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("%w %s: %v", ErrBadParam, k, err)
	}
	return d, nil
}

func (p Params) Slice(k string) ([]any, error) {
	v, ok := p[k]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrBadParam, k, err)
	}
	return s, nil
}
