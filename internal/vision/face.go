package vision

import (
	"encoding/json"
	"math"
)

// Face is one detected face in a camera frame. The ok result is false
// when the camera pipeline reported no probability for that eye.
type Face interface {
	LeftEyeOpen() (float64, bool)
	RightEyeOpen() (float64, bool)
}

// Probabilities is a Face with fixed values, mostly for tests and the
// frame feed.
type Probabilities struct {
	Left  *float64 `json:"left,omitempty"`
	Right *float64 `json:"right,omitempty"`
}

func (p Probabilities) LeftEyeOpen() (float64, bool)  { return deref(p.Left) }
func (p Probabilities) RightEyeOpen() (float64, bool) { return deref(p.Right) }

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

var (
	leftEyeKeys  = []string{"leftEyeOpenProbability", "leftEyeOpenProb", "leftEyeOpen", "probabilityLeftEyeOpen"}
	rightEyeKeys = []string{"rightEyeOpenProbability", "rightEyeOpenProb", "rightEyeOpen", "probabilityRightEyeOpen"}
)

// FaceFields adapts a loosely typed face record, as decoded from the camera
// pipeline's JSON, by probing the field names the known detectors use.
type FaceFields map[string]interface{}

func (f FaceFields) LeftEyeOpen() (float64, bool)  { return f.probe(leftEyeKeys) }
func (f FaceFields) RightEyeOpen() (float64, bool) { return f.probe(rightEyeKeys) }

func (f FaceFields) probe(keys []string) (float64, bool) {
	for _, k := range keys {
		switch v := f[k].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case json.Number:
			if n, err := v.Float64(); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// openness normalises a raw probability: missing or non-finite values are
// fully open, values above 1 are percentages.
func openness(v float64, ok bool) float64 {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	if v > 1 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}
