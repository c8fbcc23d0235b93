// Package locker fences the electrometer's HTTP routes off while an operator
// owns the device, e.g. during a long integration driven from another client.
// Requests to a fenced route get 423 (Locked); the /lock route itself stays
// reachable so the fence can be lifted.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/nasa-jpl/unidos/generichttp"
	"github.com/nasa-jpl/unidos/server"
)

// Inject adds GET and POST /lock to the electrometer's route table
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a non-blocking flag guarding a set of routes
type Locker struct {
	mu     sync.Mutex
	locked bool

	// Exempt lists path segments that are served even when locked.
	// A request is exempt if any segment of its path equals an entry.
	Exempt []string
}

// New returns an unlocked Locker that exempts the lock route
func New() *Locker {
	return &Locker{Exempt: []string{"lock"}}
}

// Lock fences the routes
func (l *Locker) Lock() { l.set(true) }

// Unlock lifts the fence
func (l *Locker) Unlock() { l.set(false) }

func (l *Locker) set(b bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = b
}

// Locked reports whether the routes are fenced
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *Locker) exempt(path string) bool {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		for _, ex := range l.Exempt {
			if seg == ex {
				return true
			}
		}
	}
	return false
}

// Check is middleware answering 423 to every non-exempt request while locked
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && !l.exempt(r.URL.Path) {
			http.Error(w, "electrometer is locked, POST {\"bool\": false} to /lock to release it", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks from a {"bool": ...} body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	b := server.BoolT{}
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l.set(b.Bool)
	w.WriteHeader(http.StatusOK)
}

// HTTPGet answers {"bool": Locked()}
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
