// Package config reads the cantool configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Loader gives read access to one configuration file. Keys are dotted paths
// into nested objects and are case-insensitive.
type Loader struct {
	v    *viper.Viper
	path string
}

// New reads the file at path. A missing file fails with an error matching
// fs.ErrNotExist. Files without an extension are read as JSON.
func New(path string) (*Loader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return &Loader{v: v, path: path}, nil
}

// FromViper wraps an already populated viper instance, typically one with
// command line flags bound to it.
func FromViper(v *viper.Viper) *Loader {
	return &Loader{v: v, path: v.ConfigFileUsed()}
}

func (l *Loader) Path() string {
	return l.path
}

func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Get returns the stored value for key or nil when it is absent.
func (l *Loader) Get(key string) any {
	if !l.v.IsSet(key) {
		return nil
	}
	return l.v.Get(key)
}

// GetOr returns the stored value for key or def when it is absent.
func (l *Loader) GetOr(key string, def any) any {
	if v := l.Get(key); v != nil {
		return v
	}
	return def
}

func (l *Loader) GetString(key, def string) string {
	v := l.Get(key)
	if v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

func (l *Loader) GetInt(key string, def int) int {
	v := l.Get(key)
	if v == nil {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// GetDuration accepts Go duration strings ("250ms") and plain numbers,
// which are taken as nanoseconds.
func (l *Loader) GetDuration(key string, def time.Duration) time.Duration {
	v := l.Get(key)
	if v == nil {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// Keys lists every leaf key, sorted.
func (l *Loader) Keys() []string {
	keys := l.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// Unmarshal decodes the subtree at key into out using mapstructure tags.
// An empty key decodes the whole file.
func (l *Loader) Unmarshal(key string, out any) error {
	var err error
	if key == "" {
		err = l.v.Unmarshal(out)
	} else {
		err = l.v.UnmarshalKey(key, out)
	}
	if err != nil {
		return fmt.Errorf("config: decode %q from %s: %w", key, l.path, err)
	}
	return nil
}
