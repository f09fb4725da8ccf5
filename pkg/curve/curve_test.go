package curve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roffe/canman/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	c := Load([]Record{{X: 0.0, Y: 1.0}, {X: 2.5, Y: 3.3}})
	assert.Equal(t, []Point{{0.0, 1.0}, {2.5, 3.3}}, c.Points)

	empty := Load(nil)
	assert.NotNil(t, empty.Points)
	assert.Empty(t, empty.Points)
}

func TestLoad_KeepsInputOrder(t *testing.T) {
	c := Load([]Record{{X: 3, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}})
	require.Equal(t, 3, c.Len())
	assert.Equal(t, []float64{3, 1, 2}, []float64{c.Points[0].X, c.Points[1].X, c.Points[2].X})
	assert.False(t, c.Sorted())
}

func TestInterpolate(t *testing.T) {
	c := Load([]Record{{X: 0, Y: 0}, {X: 10, Y: 100}, {X: 20, Y: 50}})
	tests := []struct {
		x, want float64
	}{
		{-5, 0},
		{0, 0},
		{2.5, 25},
		{10, 100},
		{15, 75},
		{20, 50},
		{99, 50},
	}
	for _, tt := range tests {
		got, err := c.Interpolate(tt.x)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "x=%v", tt.x)
	}

	_, err := Load(nil).Interpolate(1)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = Load([]Record{{X: 1}, {X: 1}}).Interpolate(1)
	assert.ErrorIs(t, err, ErrUnsorted)
}

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curves.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"curves": {"boost": [{"x": 0, "y": 1}, {"x": 2.5, "y": 3.3}]}}`), 0o644))
	l, err := config.New(path)
	require.NoError(t, err)

	c, err := FromConfig(l, "curves.boost")
	require.NoError(t, err)
	assert.Equal(t, "curves.boost", c.Name)
	assert.Equal(t, []Point{{0, 1}, {2.5, 3.3}}, c.Points)
	assert.Equal(t, "(2.5, 3.3)", c.Points[1].String())
}
