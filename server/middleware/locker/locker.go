// Package locker lets an operator freeze a scan server.  While locked, any
// request that could start, stop or alter a scan is refused with 423.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nasa-jpl/scanlab/generichttp"
)

// Inject adds GET and POST /lock to the route table of h
func Inject(h generichttp.HTTPer, l *Locker) {
	rt := h.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is the lock state of one scan server.  Reads such as /state,
// /events or /plan.csv are always served.
type Locker struct {
	locked atomic.Bool

	// Exempt holds path suffixes which are writable while locked
	Exempt []string
}

// New returns an unlocked Locker under which /lock itself stays writable
func New() *Locker {
	return &Locker{Exempt: []string{"/lock"}}
}

// Lock refuses scan changes until Unlock
func (l *Locker) Lock() { l.locked.Store(true) }

// Unlock allows scan changes
func (l *Locker) Unlock() { l.locked.Store(false) }

// Locked reports the lock state
func (l *Locker) Locked() bool { return l.locked.Load() }

func readOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (l *Locker) exempt(path string) bool {
	for _, s := range l.Exempt {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// Check is middleware that answers 423 to a locked server's writes
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && !readOnly(r.Method) && !l.exempt(r.URL.Path) {
			http.Error(w, "scan server is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks from a {"bool": b} body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var b generichttp.BoolT
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet replies with the lock state
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
