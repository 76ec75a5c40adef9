// File: internal/browser/intercept/ledger.go
package intercept

import (
	"sort"
	"sync"
)

// State is the lifecycle state of one resource URL in the ledger.
type State string

const (
	// StatePending marks a dispatched request whose outcome is unknown.
	StatePending State = "PENDING"
	// StateDone marks a successfully completed response.
	StateDone State = "DONE"
	// StateError marks a request that failed with a network error.
	StateError State = "ERROR"
	// StateTimeout marks a request that exceeded the per-resource timeout.
	StateTimeout State = "TIMEOUT"
)

// Event is a ledger input: something the network layer observed for a URL.
type Event int

const (
	// EventDispatch fires when a request for the URL goes on the wire.
	EventDispatch Event = iota
	// EventComplete fires when the response body finished loading.
	EventComplete
	// EventFail fires on a network error.
	EventFail
	// EventTimeout fires when the per-resource timer expires.
	EventTimeout
)

// Next is the ledger transition function: given the current state of a URL
// and an observed event, it returns the state that follows and whether the
// event applies at all. A dispatch always applies and resets the entry to
// PENDING, which is how a re-fetch of an already resolved URL re-enters the
// ledger. Every other event applies only while the entry is PENDING, so a
// resolved state is never downgraded by duplicate or out-of-order delivery.
func Next(cur State, ev Event) (State, bool) {
	if ev == EventDispatch {
		return StatePending, true
	}
	if cur != StatePending {
		return cur, false
	}
	switch ev {
	case EventComplete:
		return StateDone, true
	case EventFail:
		return StateError, true
	case EventTimeout:
		return StateTimeout, true
	}
	return cur, false
}

type entry struct {
	state State
	seq   uint64
}

// Ledger tracks the state of every resource URL requested during one page
// load. It lives exactly as long as the page; readiness requires that no
// entry is PENDING. All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]entry
	seq     uint64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]entry)}
}

// Dispatched records a new request for url and returns the dispatch sequence
// number. The sequence identifies this particular dispatch: a timeout timer
// armed for it becomes void once a newer dispatch of the same URL exists.
func (l *Ledger) Dispatched(url string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	next, _ := Next(l.entries[url].state, EventDispatch)
	l.entries[url] = entry{state: next, seq: l.seq}
	return l.seq
}

// Completed moves url from PENDING to DONE. It reports whether the
// transition applied.
func (l *Ledger) Completed(url string) bool {
	return l.apply(url, EventComplete)
}

// Failed moves url from PENDING to ERROR. It reports whether the transition
// applied.
func (l *Ledger) Failed(url string) bool {
	return l.apply(url, EventFail)
}

// TimedOut moves url from PENDING to TIMEOUT, but only when seq still names
// the latest dispatch of that URL. A timer that fires after its request was
// re-dispatched (or resolved) is stale and ignored.
func (l *Ledger) TimedOut(url string, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[url]
	if !ok || e.seq != seq {
		return false
	}
	next, applied := Next(e.state, EventTimeout)
	if applied {
		l.entries[url] = entry{state: next, seq: e.seq}
	}
	return applied
}

func (l *Ledger) apply(url string, ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[url]
	if !ok {
		return false
	}
	next, applied := Next(e.state, ev)
	if applied {
		l.entries[url] = entry{state: next, seq: e.seq}
	}
	return applied
}

// Lookup returns the current state of url.
func (l *Ledger) Lookup(url string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[url]
	return e.state, ok
}

// PendingCount returns how many entries are still PENDING.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.state == StatePending {
			n++
		}
	}
	return n
}

// Pending returns the URLs still PENDING, sorted for stable log output.
func (l *Ledger) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var urls []string
	for url, e := range l.entries {
		if e.state == StatePending {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)
	return urls
}

// Snapshot returns a copy of the full URL to state mapping.
func (l *Ledger) Snapshot() map[string]State {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]State, len(l.entries))
	for url, e := range l.entries {
		out[url] = e.state
	}
	return out
}

// Len returns the number of tracked URLs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
