package posture

import "fmt"

// DefaultGoodThreshold is the score (percent of baseline) at or above which
// a frame counts as good posture.
const DefaultGoodThreshold = 85.0

// Classification is the verdict for a single frame.
type Classification struct {
	Ratio  float64 `json:"ratio"`
	Score  float64 `json:"score"`
	IsGood bool    `json:"is_good"`
}

// Classify expresses ratio as a percentage of baseline and compares it with
// goodThreshold. It is a pure function of its inputs.
//
// A non-positive baseline means calibration never completed; Classify
// returns ErrNoBaseline in that case.
func Classify(ratio, baseline, goodThreshold float64) (Classification, error) {
	if baseline <= 0 {
		return Classification{}, fmt.Errorf("%w (baseline=%v)", ErrNoBaseline, baseline)
	}
	score := ratio / baseline * 100
	return Classification{
		Ratio:  ratio,
		Score:  score,
		IsGood: score >= goodThreshold,
	}, nil
}

// ScoreBand is a coarse rating used by displays to colour the live score.
type ScoreBand string

const (
	BandExcellent ScoreBand = "excellent" // at or above baseline
	BandFair      ScoreBand = "fair"      // below baseline but still good
	BandPoor      ScoreBand = "poor"      // slouching
)

// Band rates a score against the baseline (100) and the good threshold.
func Band(score, goodThreshold float64) ScoreBand {
	switch {
	case score >= 100:
		return BandExcellent
	case score >= goodThreshold:
		return BandFair
	default:
		return BandPoor
	}
}
