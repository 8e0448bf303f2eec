package motion

import (
	"context"
	"net/url"

	"github.com/nasa-jpl/scanlab/generichttp"
	"github.com/nasa-jpl/scanlab/util"
)

// HTTPMover is a Mover on a remote motion server which serves
// GET and POST /axis/{axis}/pos with {"f64": pos} bodies
type HTTPMover struct {
	*generichttp.Client
}

// NewHTTPMover returns a Mover for the server at addr,
// e.g. http://localhost:8000/omc/xps
func NewHTTPMover(addr string) HTTPMover {
	return HTTPMover{Client: generichttp.NewClient(addr)}
}

func posPath(axis string) string {
	return "/axis/" + url.PathEscape(axis) + "/pos"
}

// GetPos gets the current position of an axis
func (h HTTPMover) GetPos(axis string) (float64, error) {
	f := generichttp.FloatT{}
	err := h.GetJSON(context.Background(), posPath(axis), &f)
	return f.F64, err
}

// MoveAbs moves an axis to an absolute position
func (h HTTPMover) MoveAbs(axis string, pos float64) error {
	return h.PostJSON(context.Background(), posPath(axis), generichttp.FloatT{F64: pos})
}

// Limits fetches the server imposed limits of an axis.  ok is false when the
// axis has none.
func (h HTTPMover) Limits(axis string) (lim util.Limiter, ok bool, err error) {
	var out *util.Limiter
	err = h.GetJSON(context.Background(), "/axis/"+url.PathEscape(axis)+"/limits", &out)
	if err != nil || out == nil {
		return lim, false, err
	}
	return *out, true, nil
}
