package calib

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/mfkiwl/vicon2gt/imu"
)

// Catalog holds the keyframe times that survive inertial-coverage filtering.
// Each surviving time keeps the dense index assigned at construction, so
// graph keys stay stable when later build passes drop keyframes.
type Catalog struct {
	times []float64
	ids   map[float64]int
}

// NewCatalog sorts, deduplicates, and filters the candidate times to those
// with bounding inertial data, then indexes the survivors in time order. An
// empty candidate set, or one the inertial span covers nothing of, is a
// configuration error.
func NewCatalog(times []float64, prop *imu.Propagator, log golog.Logger) (*Catalog, error) {
	if len(times) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "no keyframe times")
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)

	c := &Catalog{ids: make(map[float64]int)}
	for i, t := range sorted {
		if i > 0 && t == sorted[i-1] {
			continue
		}
		if !prop.HasBounding(t) {
			log.Debugf("    - deleted keyframe time %.9f (no bounding inertial data)", t)
			continue
		}
		c.ids[t] = len(c.times)
		c.times = append(c.times, t)
	}
	if len(c.times) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "all keyframe times outside the inertial measurement span")
	}
	return c, nil
}

// Len returns the number of surviving keyframes.
func (c *Catalog) Len() int { return len(c.times) }

// Times returns the surviving keyframe times in increasing order.
func (c *Catalog) Times() []float64 {
	return append([]float64(nil), c.times...)
}

// Index returns the dense index assigned to t at construction.
func (c *Catalog) Index(t float64) (int, bool) {
	id, ok := c.ids[t]
	return id, ok
}

// Drop removes a keyframe time; its index stays reserved.
func (c *Catalog) Drop(t float64) {
	for i, v := range c.times {
		if v == t {
			c.times = append(c.times[:i], c.times[i+1:]...)
			return
		}
	}
}

// LoadTimesCSV reads one keyframe time per row, in nanoseconds. Lines
// starting with '#' are skipped.
func LoadTimesCSV(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "calib: open times")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = 1
	r.TrimLeadingSpace = true

	var times []float64
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "calib: read %s", path)
		}
		line++
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "calib: %s record %d", path, line)
		}
		times = append(times, v/1e9)
	}
	return times, nil
}

// DecimateTimes spans [t0, t1] at the given rate in Hz.
func DecimateTimes(t0, t1, freq float64) []float64 {
	if freq <= 0 || t1 <= t0 {
		return nil
	}
	step := 1 / freq
	var out []float64
	for i := 0; ; i++ {
		t := t0 + float64(i)*step
		if t > t1 {
			break
		}
		out = append(out, t)
	}
	return out
}
