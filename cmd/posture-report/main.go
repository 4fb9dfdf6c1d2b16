// Command posture-report prints stored posture sessions and renders a
// session's score timeline as a PNG chart.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/report"
)

var (
	dbPath    = flag.String("db", "posture.db", "SQLite database path")
	sessionID = flag.String("session", "", "Session to chart (defaults to the most recent)")
	outPath   = flag.String("out", "", "Output PNG path (defaults to posture-<session>.png)")
	list      = flag.Bool("list", false, "List recent sessions instead of charting")
	limit     = flag.Int("limit", 20, "Number of sessions to list")
)

func main() {
	flag.Parse()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	if *list {
		if err := listSessions(os.Stdout, store, *limit); err != nil {
			log.Fatal(err)
		}
		return
	}

	id := *sessionID
	if id == "" {
		id, err = latestSession(store)
		if err != nil {
			log.Fatal(err)
		}
	}
	out := *outPath
	if out == "" {
		out = fmt.Sprintf("posture-%s.png", id)
	}

	if err := writeChart(store, id, out); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", out)
}

func latestSession(store *db.DB) (string, error) {
	sessions, err := store.Sessions(1)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions recorded in %s", store.Path())
	}
	return sessions[0].ID, nil
}

func writeChart(store *db.DB, id, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return report.SessionChart(f, store, id)
}

func listSessions(w io.Writer, store *db.DB, limit int) error {
	sessions, err := store.Sessions(limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tDURATION\tBASELINE\tALERTS\tGOOD\tEND")
	for _, s := range sessions {
		duration, baseline, good := "-", "-", "-"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		if s.Calibration != nil {
			baseline = fmt.Sprintf("%.3f", s.Calibration.Baseline)
		}
		if s.ScoreSamples > 0 {
			good = fmt.Sprintf("%.0f%%", s.GoodFraction*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.StartedAt.Local().Format(time.DateTime), duration, baseline, s.AlertCount, good, s.EndReason)
	}
	return tw.Flush()
}
