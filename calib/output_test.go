package calib

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"

	"github.com/mfkiwl/vicon2gt/nav"
)

func sampleResult() *Result {
	q := nav.ExpQuat(r3.Vector{X: 0.2, Y: -0.1, Z: 0.4})
	return &Result{
		Times: []float64{1.5, 2.25},
		States: []nav.State{
			nav.NewState(q,
				r3.Vector{X: 0.001, Y: -0.002, Z: 0.003},
				r3.Vector{X: 0.5, Y: -0.25, Z: 0.125},
				r3.Vector{X: -0.01, Y: 0.02, Z: -0.03},
				r3.Vector{X: 1, Y: 2, Z: 3}),
			nav.NewState(q,
				r3.Vector{}, r3.Vector{X: 0.4}, r3.Vector{}, r3.Vector{X: 1.1, Y: 2.1, Z: 3.1}),
		},
		RBtoI:   nav.Exp(r3.Vector{X: 0.15, Y: -0.3, Z: 1.2}),
		QBtoI:   nav.ExpQuat(r3.Vector{X: 0.15, Y: -0.3, Z: 1.2}),
		PBinI:   r3.Vector{X: 0.06, Y: -0.035, Z: 0.02},
		Gravity: r3.Vector{X: 0.01, Y: -0.02, Z: 9.79},
		Toff:    0.0123,
	}
}

func TestWriteStates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "states.csv")
	res := sampleResult()
	require.NoError(t, WriteStates(path, res))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "#time(ns),px,py,pz,qw,qx,qy,qz,vx,vy,vz,bwx,bwy,bwz,bax,bay,baz", lines[0])

	fields := strings.Split(lines[1], ",")
	require.Len(t, fields, 17)
	require.Equal(t, "1500000000", fields[0])

	px, err := strconv.ParseFloat(fields[1], 64)
	require.NoError(t, err)
	require.InDelta(t, 1, px, 1e-9)
	qw, err := strconv.ParseFloat(fields[4], 64)
	require.NoError(t, err)
	require.InDelta(t, res.States[0].Orientation.W, qw, 1e-5)
	vz, err := strconv.ParseFloat(fields[10], 64)
	require.NoError(t, err)
	require.InDelta(t, 0.125, vz, 1e-9)
	bay, err := strconv.ParseFloat(fields[15], 64)
	require.NoError(t, err)
	require.InDelta(t, 0.02, bay, 1e-9)

	fields = strings.Split(lines[2], ",")
	require.Equal(t, "2250000000", fields[0])
}

func TestWriteInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "info.txt")
	res := sampleResult()
	require.NoError(t, WriteInfo(path, res))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)

	for _, section := range []string{
		"R_BtoI:", "q_BtoI:", "p_BinI:", "gravity:", "gravity norm:", "t_off_vicon_to_imu:",
	} {
		require.Contains(t, text, section)
	}
	require.Contains(t, text, "0.0123")
	require.Contains(t, text, "0.06 -0.035 0.02")

	// The R_BtoI block carries three rows of three columns.
	lines := strings.Split(text, "\n")
	require.Equal(t, "R_BtoI:", lines[0])
	for i := 1; i <= 3; i++ {
		require.Len(t, strings.Fields(lines[i]), 3)
	}
}
