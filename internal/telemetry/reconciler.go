// internal/telemetry/reconciler.go
package telemetry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

// Source tells the display where the shown telemetry came from.
type Source string

const (
	SourceServer    Source = "server"
	SourceLocal     Source = "local"
	SourceLastKnown Source = "last_known"
	SourceStatic    Source = "static"
)

// DefaultStaleAfter is how long a reading stays usable without a refresh.
const DefaultStaleAfter = 10 * time.Second

type reading struct {
	telemetry  models.Telemetry
	receivedAt time.Time
}

// View is what a display should render.
type View struct {
	Telemetry models.Telemetry `json:"telemetry"`
	Source    Source           `json:"source"`
	Age       time.Duration    `json:"age"`
}

// Reconciler merges the local bridge stream with the server stream for one
// selected lobby. Server data wins unless the user prefers local data and the
// local stream is fresh. When neither is fresh the last shown values stay up.
type Reconciler struct {
	mu          sync.Mutex
	clock       clock.Clock
	staleAfter  time.Duration
	preferLocal bool
	static      models.Telemetry

	local     *reading
	server    *reading
	lastKnown *reading
}

// NewReconciler builds a reconciler. static is shown until any stream reports.
func NewReconciler(clk clock.Clock, staleAfter time.Duration, static models.Telemetry) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reconciler{clock: clk, staleAfter: staleAfter, static: static}
}

func (r *Reconciler) SetPreferLocal(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferLocal = on
}

// ObserveLocal records a reading from the companion bridge. While the current
// reading is fresh, readings with a lower seq are dropped.
func (r *Reconciler) ObserveLocal(t models.Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = r.accept(r.local, t)
}

// ObserveServer records telemetry that arrived through the lobby stream.
func (r *Reconciler) ObserveServer(t models.Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.server = r.accept(r.server, t)
}

// ClearLocal forgets the local stream, e.g. when the bridge process exits.
func (r *Reconciler) ClearLocal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = nil
}

// Reset forgets every reading, including the last known one. Call it when the
// selected lobby changes.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local, r.server, r.lastKnown = nil, nil, nil
}

// accept replaces cur with t unless cur is still fresh and t is older by seq.
// A stale cur never holds back a restarted sequence.
func (r *Reconciler) accept(cur *reading, t models.Telemetry) *reading {
	now := r.clock.Now()
	if r.fresh(cur, now) && cur.telemetry.Seq != nil && t.Seq != nil && *t.Seq < *cur.telemetry.Seq {
		return cur
	}
	return &reading{telemetry: t, receivedAt: now}
}

func (r *Reconciler) fresh(rd *reading, now time.Time) bool {
	return rd != nil && now.Sub(rd.receivedAt) <= r.staleAfter
}

// Display picks the telemetry to show right now. It never blocks on a stream.
func (r *Reconciler) Display() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()

	var pick *reading
	var src Source
	switch {
	case r.preferLocal && r.fresh(r.local, now):
		pick, src = r.local, SourceLocal
	case r.fresh(r.server, now):
		pick, src = r.server, SourceServer
	}
	if pick != nil {
		r.lastKnown = pick
		return View{Telemetry: pick.telemetry, Source: src, Age: now.Sub(pick.receivedAt)}
	}
	if r.lastKnown != nil {
		return View{Telemetry: r.lastKnown.telemetry, Source: SourceLastKnown, Age: now.Sub(r.lastKnown.receivedAt)}
	}
	return View{Telemetry: r.static, Source: SourceStatic}
}
