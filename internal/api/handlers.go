package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalkan/srec/internal/passes"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
	"github.com/kalkan/srec/internal/track"
)

const (
	// maxPassSamples caps the coarse samples one pass search may take.
	maxPassSamples = 100_000
	// maxTrackPoints caps the points of one ground track.
	maxTrackPoints = 20_000
	// searchTimeout bounds a single pass search or ground track request.
	searchTimeout = 20 * time.Second
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeParamError answers 400 naming the offending field.
func writeParamError(w http.ResponseWriter, pe *passes.ParamError) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": pe.Error(),
		"field": pe.Field,
	})
}

// writeOperationError maps errors from a session operation to a response.
func writeOperationError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var pe *passes.ParamError
	switch {
	case errors.As(err, &pe):
		writeParamError(w, pe)
	case errors.Is(err, track.ErrNoDataset):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, propagation.ErrNoSolution):
		writeError(w, http.StatusUnprocessableEntity, "position unresolved at the requested time")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn(op+" timed out", "error", err)
		writeError(w, http.StatusServiceUnavailable, op+" timed out")
	case errors.Is(err, context.Canceled):
		logger.Debug(op+" cancelled by client")
	default:
		logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "srec",
		"endpoints": []string{
			"GET /api/v1/tle",
			"POST /api/v1/tle/reload",
			"GET /api/v1/position?t=",
			"GET /api/v1/groundtrack?start=&hours=&step=",
			"GET /api/v1/passes?lat=&lon=&alt=&start=&search_hours=&max_passes=&step=&tz=",
			"GET /api/v1/stream/position?step=",
		},
	})
}

type tleResponse struct {
	Name       string  `json:"name"`
	NORADID    int     `json:"norad_id"`
	Epoch      string  `json:"epoch"`
	Source     string  `json:"source"`
	LoadedAt   string  `json:"loaded_at"`
	AgeSeconds float64 `json:"age_seconds"`
	Line1      string  `json:"line1"`
	Line2      string  `json:"line2"`
}

func newTLEResponse(ds *tle.Dataset) tleResponse {
	return tleResponse{
		Name:       ds.Record.Name,
		NORADID:    ds.Record.NORADID,
		Epoch:      ds.Record.Epoch.UTC().Format(time.RFC3339),
		Source:     ds.Source,
		LoadedAt:   ds.LoadedAt.UTC().Format(time.RFC3339),
		AgeSeconds: time.Since(ds.Record.Epoch).Seconds(),
		Line1:      ds.Record.Line1,
		Line2:      ds.Record.Line2,
	}
}

// tleHandler serves the loaded record.
// GET /api/v1/tle
func tleHandler(store *tle.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := store.Get()
		if ds == nil {
			writeError(w, http.StatusServiceUnavailable, track.ErrNoDataset.Error())
			return
		}
		writeJSON(w, http.StatusOK, newTLEResponse(ds))
	}
}

// reloadHandler re-reads the static TLE file. A malformed file leaves the
// previous record in place and is reported verbatim.
// POST /api/v1/tle/reload
func reloadHandler(logger *slog.Logger, store *tle.Store, src Reloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := src.Reload(store)
		if err != nil {
			logger.Error("TLE reload failed", "error", err)
			status := http.StatusInternalServerError
			if errors.Is(err, tle.ErrMalformedRecord) || errors.Is(err, tle.ErrEmptySource) {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, newTLEResponse(ds))
	}
}

// positionHandler serves the sub-satellite point.
// GET /api/v1/position?t=2025-02-14T12:00:00Z
func positionHandler(logger *slog.Logger, sessions SessionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, err := timeParam(r.URL.Query(), "t", time.Now().UTC())
		if err != nil {
			writeOperationError(w, logger, "position", err)
			return
		}
		sess, err := sessions.Session()
		if err != nil {
			writeOperationError(w, logger, "position", err)
			return
		}
		pt, err := sess.Position(at)
		if err != nil {
			writeOperationError(w, logger, "position", err)
			return
		}
		writeJSON(w, http.StatusOK, pt)
	}
}

type groundTrackResponse struct {
	NORADID      int                      `json:"norad_id"`
	Start        string                   `json:"start"`
	HoursForward float64                  `json:"hours_forward"`
	StepSeconds  float64                  `json:"step_seconds"`
	Points       int                      `json:"points"`
	Unresolved   int                      `json:"unresolved"`
	Segments     [][]propagation.SubPoint `json:"segments"`
}

// groundTrackHandler serves the path of the sub-satellite point, split at
// the antimeridian.
// GET /api/v1/groundtrack?start=&hours=1.5&step=30
func groundTrackHandler(logger *slog.Logger, sessions SessionProvider, def Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, err := timeParam(q, "start", def.start())
		if err != nil {
			writeOperationError(w, logger, "ground track", err)
			return
		}
		hours, err := floatParam(q, "hours", def.HoursForward)
		if err != nil {
			writeOperationError(w, logger, "ground track", err)
			return
		}
		step, err := secondsParam(q, "step", def.TrackStep)
		if err != nil {
			writeOperationError(w, logger, "ground track", err)
			return
		}

		if points := passes.NewWindow(start, hours, step).Ticks(); points > maxTrackPoints {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "ground track too long for step; increase step or reduce hours",
				"field":      "step",
				"max_points": maxTrackPoints,
			})
			return
		}

		sess, err := sessions.Session()
		if err != nil {
			writeOperationError(w, logger, "ground track", err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
		defer cancel()
		tr, err := sess.GroundTrack(ctx, start, hours, step)
		if err != nil {
			writeOperationError(w, logger, "ground track", err)
			return
		}

		segs := tr.Segments()
		if segs == nil {
			segs = [][]propagation.SubPoint{}
		}
		writeJSON(w, http.StatusOK, groundTrackResponse{
			NORADID:      sess.Record().NORADID,
			Start:        start.Format(time.RFC3339),
			HoursForward: hours,
			StepSeconds:  step.Seconds(),
			Points:       len(tr.Points),
			Unresolved:   tr.Unresolved,
			Segments:     segs,
		})
	}
}

type passesResponse struct {
	NORADID     int             `json:"norad_id"`
	Observer    passes.Observer `json:"observer"`
	Start       string          `json:"start"`
	End         string          `json:"end"`
	StepSeconds float64         `json:"step_seconds"`
	NoPasses    bool            `json:"no_passes"`
	Unresolved  bool            `json:"unresolved"`
	Evaluations int             `json:"evaluations"`
	Gaps        int             `json:"gaps"`
	Passes      []passes.Pass   `json:"passes"`
	Rows        []passes.Row    `json:"rows"`
}

// parsePassParams reads the pass search inputs, falling back to def.
func parsePassParams(r *http.Request, def Defaults) (track.PassParams, error) {
	q := r.URL.Query()
	var (
		p   track.PassParams
		err error
	)
	if p.Observer.LatDeg, err = floatParam(q, "lat", def.Observer.LatDeg); err != nil {
		return p, err
	}
	if p.Observer.LonDeg, err = floatParam(q, "lon", def.Observer.LonDeg); err != nil {
		return p, err
	}
	if p.Observer.AltM, err = floatParam(q, "alt", def.Observer.AltM); err != nil {
		return p, err
	}
	if p.Start, err = timeParam(q, "start", def.start()); err != nil {
		return p, err
	}
	if p.SearchHours, err = floatParam(q, "search_hours", def.SearchHours); err != nil {
		return p, err
	}
	if p.MaxPasses, err = intParam(q, "max_passes", def.MaxPasses); err != nil {
		return p, err
	}
	if p.Step, err = secondsParam(q, "step", def.Step); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// passesHandler predicts passes over an observer.
// GET /api/v1/passes?lat=40.7&lon=-74&alt=10&search_hours=24&max_passes=5
func passesHandler(logger *slog.Logger, sessions SessionProvider, def Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePassParams(r, def)
		if err != nil {
			writeOperationError(w, logger, "pass search", err)
			return
		}
		loc, err := locationParam(r.URL.Query(), "tz", def.Location)
		if err != nil {
			writeOperationError(w, logger, "pass search", err)
			return
		}

		win := p.Window()
		if samples := win.Ticks(); samples > maxPassSamples {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":       "search window too long for step; increase step or reduce search_hours",
				"field":       "step",
				"max_samples": maxPassSamples,
			})
			return
		}

		sess, err := sessions.Session()
		if err != nil {
			writeOperationError(w, logger, "pass search", err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
		defer cancel()
		res, err := sess.Passes(ctx, p)
		if err != nil {
			writeOperationError(w, logger, "pass search", err)
			return
		}

		found := res.Passes
		if found == nil {
			found = []passes.Pass{}
		}
		writeJSON(w, http.StatusOK, passesResponse{
			NORADID:     sess.Record().NORADID,
			Observer:    p.Observer,
			Start:       win.Start.Format(time.RFC3339),
			End:         win.End.Format(time.RFC3339),
			StepSeconds: win.Step.Seconds(),
			NoPasses:    res.Empty(),
			Unresolved:  res.Unresolved(),
			Evaluations: res.Evaluations,
			Gaps:        res.Gaps,
			Passes:      found,
			Rows:        passes.Rows(found, loc),
		})
	}
}
