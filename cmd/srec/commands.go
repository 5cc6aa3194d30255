package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalkan/srec/internal/passes"
	"github.com/kalkan/srec/internal/track"
)

var (
	startFlag   string
	atFlag      string
	hoursFlag   float64
	stepFlag    int
	latFlag     float64
	lonFlag     float64
	altFlag     float64
	maxPasses   int
	searchHours float64
	tzFlag      string
)

var passesCmd = &cobra.Command{
	Use:     "passes",
	Aliases: []string{"p"},
	Short:   "predict visibility passes over an observer",
	Long: `passes scans the search horizon at a coarse step, refines every horizon
crossing by bisection and reports AOS, LOS, duration and peak elevation.
Passes shorter than about two coarse steps can be missed.`,
	RunE: runPasses,
}

var trackCmd = &cobra.Command{
	Use:     "track",
	Aliases: []string{"t"},
	Short:   "print the ground track",
	RunE:    runTrack,
}

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "print the sub-satellite point",
	RunE:  runPosition,
}

var tleCmd = &cobra.Command{
	Use:   "tle",
	Short: "show the loaded TLE record",
	RunE:  runTLE,
}

func init() {
	rootCmd.AddCommand(passesCmd, trackCmd, positionCmd, tleCmd)

	passesCmd.Flags().StringVar(&startFlag, "start", "", "search start, RFC 3339 (default: now)")
	passesCmd.Flags().Float64Var(&latFlag, "lat", 0, "observer latitude, degrees")
	passesCmd.Flags().Float64Var(&lonFlag, "lon", 0, "observer longitude, degrees")
	passesCmd.Flags().Float64Var(&altFlag, "alt", 0, "observer altitude, meters")
	passesCmd.Flags().IntVarP(&maxPasses, "max-passes", "n", 0, "maximum number of passes")
	passesCmd.Flags().Float64Var(&searchHours, "search-hours", 0, "search horizon, hours")
	passesCmd.Flags().IntVar(&stepFlag, "step", 0, "coarse scan step, seconds")
	passesCmd.Flags().StringVar(&tzFlag, "tz", "", "time zone for the table (default: config or local)")

	trackCmd.Flags().StringVar(&startFlag, "start", "", "track start, RFC 3339 (default: now)")
	trackCmd.Flags().Float64Var(&hoursFlag, "hours", 0, "track duration, hours")
	trackCmd.Flags().IntVar(&stepFlag, "step", 0, "sample step, seconds")

	positionCmd.Flags().StringVar(&atFlag, "at", "", "instant, RFC 3339 (default: now)")
}

// startTime resolves --start, then the configured start, then now.
func startTime(cmd *cobra.Command, e *env) (time.Time, error) {
	if cmd.Flags().Changed("start") {
		t, err := time.Parse(time.RFC3339, startFlag)
		if err != nil {
			return time.Time{}, &passes.ParamError{Field: "start", Value: startFlag, Reason: "must be an RFC 3339 timestamp"}
		}
		return t.UTC(), nil
	}
	t, err := e.cfg.StartTime()
	if err != nil {
		return time.Time{}, err
	}
	if t.IsZero() {
		t = time.Now().UTC().Truncate(time.Second)
	}
	return t, nil
}

func location(cmd *cobra.Command, e *env) (*time.Location, error) {
	if cmd.Flags().Changed("tz") {
		return time.LoadLocation(tzFlag)
	}
	loc, err := e.cfg.Location()
	if err != nil || loc != nil {
		return loc, err
	}
	return time.Local, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPasses(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	start, err := startTime(cmd, e)
	if err != nil {
		return err
	}
	loc, err := location(cmd, e)
	if err != nil {
		return err
	}

	p := track.PassParams{
		Observer:    passes.Observer{LatDeg: e.cfg.Observer.Lat, LonDeg: e.cfg.Observer.Lon, AltM: e.cfg.Observer.Alt},
		Start:       start,
		SearchHours: e.cfg.Search.SearchHours,
		MaxPasses:   e.cfg.Search.MaxPasses,
		Step:        time.Duration(e.cfg.Search.StepSeconds) * time.Second,
	}
	f := cmd.Flags()
	if f.Changed("lat") {
		p.Observer.LatDeg = latFlag
	}
	if f.Changed("lon") {
		p.Observer.LonDeg = lonFlag
	}
	if f.Changed("alt") {
		p.Observer.AltM = altFlag
	}
	if f.Changed("max-passes") {
		p.MaxPasses = maxPasses
	}
	if f.Changed("search-hours") {
		p.SearchHours = searchHours
	}
	if f.Changed("step") {
		p.Step = time.Duration(stepFlag) * time.Second
		if stepFlag < 1 {
			return &passes.ParamError{Field: "step", Value: stepFlag, Reason: "must be a positive number of seconds"}
		}
	}

	res, err := e.session.Passes(cmd.Context(), p)
	if err != nil {
		return err
	}
	if res.Unresolved() {
		return fmt.Errorf("propagation failed at every sample; is the TLE record valid for %s?", start.Format(time.RFC3339))
	}

	rows := passes.Rows(res.Passes, loc)
	if jsonOut {
		return printJSON(map[string]any{
			"name":      e.dataset.Record.Name,
			"norad_id":  e.dataset.Record.NORADID,
			"observer":  p.Observer,
			"no_passes": res.Empty(),
			"passes":    res.Passes,
			"rows":      rows,
		})
	}

	fmt.Printf("%s (NORAD %d) from %.4f, %.4f, %.0f m; %s + %gh\n",
		e.dataset.Record.Name, e.dataset.Record.NORADID,
		p.Observer.LatDeg, p.Observer.LonDeg, p.Observer.AltM,
		start.In(loc).Format("2006-01-02 15:04 MST"), p.SearchHours)
	if res.Empty() {
		fmt.Println("No passes found.")
		return nil
	}
	if err := passes.WriteTable(os.Stdout, rows); err != nil {
		return err
	}
	if res.Gaps > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d of %d samples could not be propagated\n", res.Gaps, res.Samples)
	}
	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	start, err := startTime(cmd, e)
	if err != nil {
		return err
	}
	hours := e.cfg.Search.HoursForward
	if cmd.Flags().Changed("hours") {
		hours = hoursFlag
	}
	step := time.Duration(e.cfg.Search.TrackStepSeconds) * time.Second
	if cmd.Flags().Changed("step") {
		step = time.Duration(stepFlag) * time.Second
	}

	tr, err := e.session.GroundTrack(cmd.Context(), start, hours, step)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{
			"norad_id":   e.dataset.Record.NORADID,
			"unresolved": tr.Unresolved,
			"segments":   tr.Segments(),
		})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TIME (UTC)\tLAT\tLON\tALT (km)\t")
	for i, seg := range tr.Segments() {
		if i > 0 {
			fmt.Fprintln(tw, "--\t\t\t\t")
		}
		for _, pt := range seg {
			fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.1f\t\n", pt.Time.UTC().Format("2006-01-02 15:04:05"), pt.LatDeg, pt.LonDeg, pt.AltKm)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if tr.Unresolved > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d points could not be propagated\n", tr.Unresolved)
	}
	return nil
}

func runPosition(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	at := time.Now().UTC()
	if cmd.Flags().Changed("at") {
		if at, err = time.Parse(time.RFC3339, atFlag); err != nil {
			return &passes.ParamError{Field: "at", Value: atFlag, Reason: "must be an RFC 3339 timestamp"}
		}
	}

	pt, err := e.session.Position(at)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(pt)
	}
	fmt.Printf("%s  lat %.4f  lon %.4f  alt %.1f km\n", pt.Time.UTC().Format(time.RFC3339), pt.LatDeg, pt.LonDeg, pt.AltKm)
	return nil
}

func runTLE(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	rec := e.dataset.Record
	if jsonOut {
		return printJSON(map[string]any{
			"name":     rec.Name,
			"norad_id": rec.NORADID,
			"epoch":    rec.Epoch.Format(time.RFC3339),
			"source":   e.dataset.Source,
			"line1":    rec.Line1,
			"line2":    rec.Line2,
		})
	}
	age := time.Since(rec.Epoch).Round(time.Minute)
	fmt.Printf("%s (NORAD %d)\nsource: %s\nepoch:  %s (%s ago)\n%s\n%s\n",
		rec.Name, rec.NORADID, e.dataset.Source, rec.Epoch.Format(time.RFC3339), age, rec.Line1, rec.Line2)
	return nil
}
