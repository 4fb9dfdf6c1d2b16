// Package report renders stored posture sessions as charts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/posture.report/internal/db"
)

// ErrNoScores is returned when a session has no score samples to plot.
var ErrNoScores = errors.New("report: session has no score samples")

// Default chart size.
const (
	DefaultWidth  = 10 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

var (
	scoreColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	thresholdColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	alertColor     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// ScoreChart plots a session's score timeline with the good-posture
// threshold and a marker per alert.
func ScoreChart(sessionID string, scores []db.ScoreSample, alerts []db.Alert, threshold float64) (*plot.Plot, error) {
	if len(scores) == 0 {
		return nil, ErrNoScores
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Posture score - session %s", sessionID)
	p.X.Label.Text = "Time (UTC)"
	p.Y.Label.Text = "Score (% of baseline)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05"}
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(scores))
	for _, s := range scores {
		pts = append(pts, plotter.XY{X: unix(s.Time), Y: s.Score})
	}
	scoreLine, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build score line: %w", err)
	}
	scoreLine.Color = scoreColor
	scoreLine.Width = vg.Points(1.5)
	p.Add(scoreLine)
	p.Legend.Add("score", scoreLine)

	first, last := pts[0].X, pts[len(pts)-1].X
	if last == first {
		last = first + 1
	}
	thresholdLine, err := plotter.NewLine(plotter.XYs{{X: first, Y: threshold}, {X: last, Y: threshold}})
	if err != nil {
		return nil, fmt.Errorf("failed to build threshold line: %w", err)
	}
	thresholdLine.Color = thresholdColor
	thresholdLine.Width = vg.Points(1)
	thresholdLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(thresholdLine)
	p.Legend.Add(fmt.Sprintf("good threshold (%.0f%%)", threshold), thresholdLine)

	if len(alerts) > 0 {
		alertPts := make(plotter.XYs, 0, len(alerts))
		for _, a := range alerts {
			alertPts = append(alertPts, plotter.XY{X: unix(a.Time), Y: a.Score})
		}
		marks, err := plotter.NewScatter(alertPts)
		if err != nil {
			return nil, fmt.Errorf("failed to build alert markers: %w", err)
		}
		marks.GlyphStyle.Color = alertColor
		marks.GlyphStyle.Shape = draw.CrossGlyph{}
		marks.GlyphStyle.Radius = vg.Points(4)
		p.Add(marks)
		p.Legend.Add(fmt.Sprintf("alerts (%d)", len(alerts)), marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders p as a PNG of the given size. Zero sizes use the
// defaults.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

// SessionChart loads a session from the database and writes its score chart
// as PNG to w.
func SessionChart(w io.Writer, store *db.DB, sessionID string) error {
	s, err := store.Session(sessionID)
	if err != nil {
		return err
	}
	scores, err := store.Scores(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load scores: %w", err)
	}
	alerts, err := store.Alerts(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}
	p, err := ScoreChart(sessionID, scores, alerts, s.Options.GoodThreshold)
	if err != nil {
		return err
	}
	return WritePNG(w, p, 0, 0)
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
