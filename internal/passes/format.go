package passes

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	tcaLayout  = "15:04:05"
)

// Row is one line of the pass table in display form.
type Row struct {
	Index       int    `json:"index"`
	AOS         string `json:"aos"`
	LOS         string `json:"los"`
	DurationMin string `json:"duration_min"`
	Peak        string `json:"peak"`
}

// Rows formats passes for tabular display with times in loc.
// Index is 1-based; duration is in minutes and peak elevation in degrees,
// both with one decimal.
func Rows(passes []Pass, loc *time.Location) []Row {
	if loc == nil {
		loc = time.Local
	}
	rows := make([]Row, len(passes))
	for i, p := range passes {
		rows[i] = Row{
			Index:       i + 1,
			AOS:         p.AOS.In(loc).Format(timeLayout),
			LOS:         p.LOS.In(loc).Format(timeLayout),
			DurationMin: fmt.Sprintf("%.1f", p.Duration().Minutes()),
			Peak:        fmt.Sprintf("%.1f° @ %s", p.MaxElevation, p.TCA.In(loc).Format(tcaLayout)),
		}
	}
	return rows
}

// WriteTable renders rows as an aligned text table.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tAOS\tLOS\tDUR (min)\tPEAK")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Index, r.AOS, r.LOS, r.DurationMin, r.Peak)
	}
	return tw.Flush()
}
