// Package motion provides an HTTP interface to motion controllers
package motion

import (
	"bytes"
	"encoding/json"
	"go/types"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/scanlab/generichttp"
	"github.com/nasa-jpl/scanlab/motion"
	"github.com/nasa-jpl/scanlab/util"
)

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface motion.Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(iface)
}

// GetPos returns an HTTP handler func from a mover that gets the position of an axis
func GetPos(m motion.Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		pos, err := m.GetPos(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: pos}
		hp.EncodeAndRespond(w, r)
	}
}

func popAxisRelative(r *http.Request) (string, bool, error) {
	axis := chi.URLParam(r, "axis")
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	b, err := strconv.ParseBool(relative)
	return axis, b, err
}

// target returns the absolute position a POST to /axis/{axis}/pos asks for
func target(m motion.Mover, axis string, relative bool, cmd float64) (float64, error) {
	if !relative {
		return cmd, nil
	}
	curr, err := m.GetPos(axis)
	if err != nil {
		return 0, err
	}
	return curr + cmd, nil
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute or
// relative move on an axis based on the relative query parameter.  Relative
// moves are made absolute with the current position.
func SetPos(m motion.Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, rel, err := popAxisRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pos, err := target(m, axis, rel, f.F64)
		if err == nil {
			err = m.MoveAbs(axis, pos)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// LimitMiddleware is a type that can impose axis-specific limits on motion.
// A POST to an axis position which would leave the limits is answered with
// StatusBadRequest and does not reach the mover.
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the controller
	Limits map[string]util.Limiter

	// Mov is a reference to the mover, used to query axis positions
	Mov motion.Mover
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest
// otherwise, flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pos") || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		axis, relative, err := axisFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limiter, ok := l.Limits[axis]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		// downstream handlers need the body too
		bodyContent, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(bodyContent))
		f := generichttp.FloatT{}
		err = json.Unmarshal(bodyContent, &f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd, err := target(l.Mov, axis, relative, f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !limiter.Check(cmd) {
			http.Error(w, motion.ErrLimit.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// axisFromPath reads the axis from .../axis/{axis}/pos.  Middleware runs
// before chi has matched the route, so URLParam is not available yet.
func axisFromPath(r *http.Request) (string, bool, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	axis := ""
	if n := len(parts); n >= 3 && parts[n-3] == "axis" {
		axis = parts[n-2]
	}
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		return axis, false, nil
	}
	b, err := strconv.ParseBool(relative)
	return axis, b, err
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l *LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits for an axis,
// or null if it has none
func Limits(l *LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		lim, ok := l.Limits[axis]
		w.Header().Set("Content-Type", "application/json")
		var err error
		if !ok {
			err = json.NewEncoder(w).Encode(nil)
		} else {
			err = json.NewEncoder(w).Encode(lim)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	motion.Mover

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(m motion.Mover) HTTPMotionController {
	w := HTTPMotionController{Mover: m, RouteTable: generichttp.RouteTable{}}
	HTTPMove(m, w.RouteTable)
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
