// Package server puts a scan session on an HTTP interface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/scanlab/generichttp"
	"github.com/nasa-jpl/scanlab/observability"
	"github.com/nasa-jpl/scanlab/scan"
	"github.com/nasa-jpl/scanlab/server/middleware/locker"
	"github.com/nasa-jpl/scanlab/session"
	"pkt.systems/pslog"
)

// DefaultPollTimeout is how long GET /events waits for a first event
const DefaultPollTimeout = 10 * time.Second

// Imager takes a number of camera images, e.g. trigger.Serial
type Imager interface {
	TakeImages(int) error
}

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	log := pslog.Ctx(r.Context())
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Error("reply with file", "err", fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Warn("reply with file", "err", fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Error("reply with file", "err", fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// StatusOf maps an error from the session to an HTTP status code
func StatusOf(err error) int {
	switch {
	case scan.IsConfigError(err):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNoParameters):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func reply(w http.ResponseWriter, err error) {
	if err != nil {
		http.Error(w, err.Error(), StatusOf(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		pslog.Ctx(r.Context()).Error("encode response", "err", fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// ScanHTTP is the HTTP face of a session.Controller
type ScanHTTP struct {
	Ctl *session.Controller

	// Events feeds GET /events; the route is absent when C is nil
	Events session.ChanNotifier

	// ParameterFile is the default path for /parameters/save and
	// /parameters/load, and is served by GET /parameters/file
	ParameterFile string

	Designer scan.Designer

	// Imager serves POST /take-image when not nil
	Imager Imager

	Metrics *observability.Metrics

	// Locker protects every POST route but /lock when not nil
	Locker *locker.Locker

	RouteTable generichttp.RouteTable
}

// RT satisfies generichttp.HTTPer
func (h *ScanHTTP) RT() generichttp.RouteTable {
	return h.RouteTable
}

// NewScanHTTP builds the route table of a ScanHTTP
func NewScanHTTP(h *ScanHTTP) *ScanHTTP {
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/parameters"}:       h.GetParameters,
		{Method: http.MethodPost, Path: "/parameters"}:      h.SetParameters,
		{Method: http.MethodPost, Path: "/parameters/save"}: h.SaveParameters,
		{Method: http.MethodPost, Path: "/parameters/load"}: h.LoadParameters,
		{Method: http.MethodGet, Path: "/parameters/file"}:  h.ParameterFileContents,
		{Method: http.MethodPost, Path: "/initialize"}:      h.Initialize,
		{Method: http.MethodPost, Path: "/run"}:             h.Run,
		{Method: http.MethodPost, Path: "/stop"}:            h.Stop,
		{Method: http.MethodGet, Path: "/state"}:            h.Status,
		{Method: http.MethodGet, Path: "/plan.csv"}:         h.PlanCSV,
		{Method: http.MethodGet, Path: "/plan.fits"}:        h.PlanFITS,
		{Method: http.MethodGet, Path: "/repeat"}: generichttp.GetBool(func() (bool, error) {
			return h.Ctl.Repeat(), nil
		}),
		{Method: http.MethodPost, Path: "/repeat"}: generichttp.SetBool(func(b bool) error {
			h.Ctl.SetRepeat(b)
			return nil
		}),
		{Method: http.MethodGet, Path: "/continuous"}: generichttp.GetBool(func() (bool, error) {
			return h.Ctl.Continuous(), nil
		}),
		{Method: http.MethodPost, Path: "/continuous"}: h.SetContinuous,
	}
	if h.Events.C != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/events"}] = h.PollEvents
	}
	if h.Imager != nil {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/take-image"}] = generichttp.SetInt(h.Imager.TakeImages)
	}
	if h.Metrics != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/metrics"}] = h.Metrics.Handler().ServeHTTP
	}
	h.RouteTable = rt
	if h.Locker != nil {
		locker.Inject(h, h.Locker)
	}
	return h
}

// Router returns a chi router serving the table, behind the locker if any
func (h *ScanHTTP) Router() chi.Router {
	r := chi.NewRouter()
	if h.Locker != nil {
		r.Use(h.Locker.Check)
	}
	h.RouteTable.Bind(r)
	return r
}

// GetParameters replies with the current parameter set, refreshed from the
// source
func (h *ScanHTTP) GetParameters(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Ctl.GetParameters(); err != nil {
		reply(w, err)
		return
	}
	ps, ok := h.Ctl.Parameters()
	if !ok {
		reply(w, session.ErrNoParameters)
		return
	}
	writeJSON(w, r, ps)
}

// SetParameters replaces the parameter set with the JSON body
func (h *ScanHTTP) SetParameters(w http.ResponseWriter, r *http.Request) {
	ps := scan.ParameterSet{}
	err := json.NewDecoder(r.Body).Decode(&ps)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ps.Analog == nil || ps.Digital == nil {
		http.Error(w, "both analog and digital sections are required", http.StatusBadRequest)
		return
	}
	reply(w, h.Ctl.SetParameters(ps))
}

// pathFromBody reads an optional {"str": path} body, defaulting to the
// configured parameter file
func (h *ScanHTTP) pathFromBody(r *http.Request) (string, error) {
	s := generichttp.StrT{}
	defer r.Body.Close()
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			return "", err
		}
	}
	if s.Str == "" {
		s.Str = h.ParameterFile
	}
	if s.Str == "" {
		return "", errors.New("no parameter file configured or given")
	}
	return s.Str, nil
}

// SaveParameters writes the current parameters to a file
func (h *ScanHTTP) SaveParameters(w http.ResponseWriter, r *http.Request) {
	path, err := h.pathFromBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ps, ok := h.Ctl.Parameters()
	if !ok {
		reply(w, session.ErrNoParameters)
		return
	}
	reply(w, scan.SaveParametersFile(path, ps))
}

// LoadParameters reads a parameter file and makes it current
func (h *ScanHTTP) LoadParameters(w http.ResponseWriter, r *http.Request) {
	path, err := h.pathFromBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ps, err := scan.LoadParametersFile(path, h.Designer)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		reply(w, err)
		return
	}
	reply(w, h.Ctl.SetParameters(ps))
}

// ParameterFileContents serves the configured parameter file as is
func (h *ScanHTTP) ParameterFileContents(w http.ResponseWriter, r *http.Request) {
	if h.ParameterFile == "" {
		http.Error(w, "no parameter file configured", http.StatusNotFound)
		return
	}
	ReplyWithFile(w, r, filepath.Base(h.ParameterFile), filepath.Dir(h.ParameterFile))
}

// Initialize compiles and loads a plan without running it
func (h *ScanHTTP) Initialize(w http.ResponseWriter, r *http.Request) {
	reply(w, h.Ctl.Initialize(r.Context()))
}

// Run starts a scan.  The body, if any, is a JSON session.RunOptions.
func (h *ScanHTTP) Run(w http.ResponseWriter, r *http.Request) {
	opts := session.RunOptions{}
	defer r.Body.Close()
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	reply(w, h.Ctl.Run(r.Context(), opts))
}

// Stop ends the current scan
func (h *ScanHTTP) Stop(w http.ResponseWriter, r *http.Request) {
	reply(w, h.Ctl.Stop())
}

// Status replies with a session.Status
func (h *ScanHTTP) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.Ctl.Status())
}

// SetContinuous selects the scan mode from a {"bool": value} body
func (h *ScanHTTP) SetContinuous(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply(w, h.Ctl.SetContinuous(b.Bool))
}

func (h *ScanHTTP) plan(w http.ResponseWriter) *scan.Plan {
	p := h.Ctl.Plan()
	if p == nil {
		http.Error(w, "no plan has been compiled", http.StatusNotFound)
	}
	return p
}

// PlanCSV replies with the current plan as CSV
func (h *ScanHTTP) PlanCSV(w http.ResponseWriter, r *http.Request) {
	p := h.plan(w)
	if p == nil {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	if err := p.WriteCSV(w); err != nil {
		pslog.Ctx(r.Context()).Error("write plan csv", "err", err)
	}
}

// PlanFITS replies with the current plan as a FITS file
func (h *ScanHTTP) PlanFITS(w http.ResponseWriter, r *http.Request) {
	p := h.plan(w)
	if p == nil {
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", `attachment; filename="plan.fits"`)
	if err := p.WriteFITS(w); err != nil {
		pslog.Ctx(r.Context()).Error("write plan fits", "err", err)
	}
}

// PollEvents waits for at least one event, or the timeout given in seconds
// by ?timeout=, and replies with every queued event as a JSON list
func (h *ScanHTTP) PollEvents(w http.ResponseWriter, r *http.Request) {
	timeout := DefaultPollTimeout
	if s := r.URL.Query().Get("timeout"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			http.Error(w, "timeout must be a non-negative number of seconds", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(f * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	out := []session.Event{}
	select {
	case e := <-h.Events.C:
		out = append(out, e)
	case <-ctx.Done():
	}
drain:
	for {
		select {
		case e := <-h.Events.C:
			out = append(out, e)
		default:
			break drain
		}
	}
	writeJSON(w, r, out)
}
