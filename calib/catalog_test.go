package calib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"

	"github.com/mfkiwl/vicon2gt/imu"
)

// flatSpanPropagator covers [0, 2] with stationary readings.
func flatSpanPropagator(t *testing.T) *imu.Propagator {
	t.Helper()
	var samples []imu.Sample
	for i := 0; i <= 200; i++ {
		samples = append(samples, imu.Sample{
			Time:  float64(i) / 100,
			Accel: r3.Vector{Z: 9.8},
		})
	}
	p, err := imu.NewPropagator(samples, DefaultConfig().IMUNoise())
	require.NoError(t, err)
	return p
}

func TestNewCatalogFiltersAndIndexes(t *testing.T) {
	prop := flatSpanPropagator(t)
	times := []float64{1.5, -0.5, 0.5, 0.5, 2.5, 1.0}

	cat, err := NewCatalog(times, prop, golog.NewTestLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, cat.Len())
	require.Equal(t, []float64{0.5, 1.0, 1.5}, cat.Times())

	for want, tt := range []float64{0.5, 1.0, 1.5} {
		id, ok := cat.Index(tt)
		require.True(t, ok)
		require.Equal(t, want, id)
	}
	_, ok := cat.Index(2.5)
	require.False(t, ok)

	// Every retained keyframe has bounding inertial data, and filtering an
	// already filtered set keeps it intact.
	for _, tt := range cat.Times() {
		require.True(t, prop.HasBounding(tt))
	}
	again, err := NewCatalog(cat.Times(), prop, golog.NewTestLogger(t))
	require.NoError(t, err)
	require.Equal(t, cat.Times(), again.Times())
}

func TestNewCatalogErrors(t *testing.T) {
	prop := flatSpanPropagator(t)

	_, err := NewCatalog(nil, prop, golog.NewTestLogger(t))
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewCatalog([]float64{5, 6, 7}, prop, golog.NewTestLogger(t))
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestCatalogDropKeepsIndices(t *testing.T) {
	prop := flatSpanPropagator(t)
	cat, err := NewCatalog([]float64{0.5, 1.0, 1.5}, prop, golog.NewTestLogger(t))
	require.NoError(t, err)

	cat.Drop(1.0)
	require.Equal(t, []float64{0.5, 1.5}, cat.Times())
	require.Equal(t, 2, cat.Len())

	id, ok := cat.Index(1.5)
	require.True(t, ok)
	require.Equal(t, 2, id)

	// Dropping something unknown is a no-op.
	cat.Drop(9.9)
	require.Equal(t, 2, cat.Len())
}

func TestLoadTimesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "times.csv")
	data := "#timestamp [ns]\n1403636580000000000\n1403636580100000096\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	times, err := LoadTimesCSV(path)
	require.NoError(t, err)
	require.Len(t, times, 2)
	require.InDelta(t, 1403636580.0, times[0], 1e-6)
	require.InDelta(t, 0.1, times[1]-times[0], 1e-6)

	_, err = LoadTimesCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("abc\n"), 0o644))
	_, err = LoadTimesCSV(bad)
	require.Error(t, err)
}

func TestDecimateTimes(t *testing.T) {
	times := DecimateTimes(0.5, 2.0, 4)
	require.Equal(t, []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}, times)

	require.Nil(t, DecimateTimes(1, 1, 10))
	require.Nil(t, DecimateTimes(0, 1, 0))
	require.Nil(t, DecimateTimes(2, 1, 10))
}
