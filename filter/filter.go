// Package filter implements the edge-triggered smoothing applied to tracker vectors.
//
// A new sample passes through untouched and becomes the new baseline unless its largest component-wise jump from
// the previous output exceeds the drift threshold. Once that happens the whole vector, not only the components that
// jumped, is blended with the previous output:
//
//	out[i] = c*raw[i] + (1-c)*last[i]
//
// where c is the filter coefficient.
package filter

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/jdginn/antidrift/params"
	"github.com/jdginn/antidrift/tracker"
)

// Result is the outcome of one filter step.
type Result struct {
	Output []float64
	// Corrected is true when the drift threshold was exceeded and Output was blended.
	Corrected bool
	// MaxDrift is the largest absolute component difference from the previous output, or 0 without history.
	MaxDrift float64
}

// Correct computes one filter step. last may be nil, meaning no history. Neither input is modified.
func Correct(last, raw []float64, p params.Params) Result {
	out := make([]float64, len(raw))
	copy(out, raw)
	if len(raw) == 0 || len(last) != len(raw) {
		return Result{Output: out}
	}

	drift := make([]float64, len(raw))
	floats.SubTo(drift, raw, last)
	for i, d := range drift {
		drift[i] = math.Abs(d)
	}
	maxDrift := floats.Max(drift)

	if !(maxDrift > p.DriftThreshold) {
		return Result{Output: out, MaxDrift: maxDrift}
	}

	floats.Scale(p.FilterCoefficient, out)
	floats.AddScaled(out, 1-p.FilterCoefficient, last)
	return Result{Output: out, Corrected: true, MaxDrift: maxDrift}
}

// Apply runs Correct against the stored history for a tracker and records the output as the new history.
func Apply(st *tracker.State, raw []float64, p params.Params) Result {
	res := Correct(st.Last, raw, p)
	st.Last = make([]float64, len(res.Output))
	copy(st.Last, res.Output)
	return res
}
