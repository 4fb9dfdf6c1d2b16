package posture

// LandmarkName identifies an anatomical point reported by the detector.
type LandmarkName string

const (
	Nose          LandmarkName = "nose"
	LeftShoulder  LandmarkName = "left_shoulder"
	RightShoulder LandmarkName = "right_shoulder"
)

// RequiredLandmarks lists the points a frame must carry to yield a ratio.
var RequiredLandmarks = []LandmarkName{Nose, LeftShoulder, RightShoulder}

// Landmark is a detected point in normalized [0,1] frame coordinates.
type Landmark struct {
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// LandmarkSet holds the landmarks detected in one frame. A landmark the
// detector did not report is simply absent from the map.
type LandmarkSet map[LandmarkName]Landmark

// Lookup returns the named landmark if it is present with at least
// minConfidence.
func (s LandmarkSet) Lookup(name LandmarkName, minConfidence float64) (Landmark, bool) {
	lm, ok := s[name]
	if !ok || lm.Confidence < minConfidence {
		return Landmark{}, false
	}
	return lm, true
}
