package gormbackend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/Alp4ka/deeppager"
)

// ErrScrollNotFound is returned for scroll tokens that were closed, expired
// or never issued.
var ErrScrollNotFound = errors.New("no scroll context found")

type scrollEntry struct {
	table   string
	query   deeppager.Query
	pager   *scrollPager
	total   int64
	expires time.Time
}

// registry keeps open scrolls in memory. Entries live until closed or until
// their keep-alive passes without an advance.
type registry struct {
	mu      sync.Mutex
	entries map[string]*scrollEntry
	now     func() time.Time
}

func newRegistry(now func() time.Time) *registry {
	return &registry{
		entries: map[string]*scrollEntry{},
		now:     now,
	}
}

func (r *registry) open(entry scrollEntry, keepAlive time.Duration) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	token := xid.New().String()
	entry.expires = r.now().Add(keepAlive)
	r.entries[token] = &entry

	return token
}

// get returns a snapshot of a live entry.
func (r *registry) get(token string) (scrollEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		return scrollEntry{}, fmt.Errorf("%w for token '%s'", ErrScrollNotFound, token)
	}

	if !r.now().Before(entry.expires) {
		delete(r.entries, token)
		return scrollEntry{}, fmt.Errorf("%w for token '%s': keep-alive expired", ErrScrollNotFound, token)
	}

	return *entry, nil
}

// advance moves a live entry to pager and renews its keep-alive. Entries
// closed in the meantime stay closed.
func (r *registry) advance(token string, pager *scrollPager, keepAlive time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		return
	}

	entry.pager = pager
	entry.expires = r.now().Add(keepAlive)
}

// close removes the entries and reports how many were open.
func (r *registry) close(tokens []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	freed := 0
	for _, token := range tokens {
		if _, ok := r.entries[token]; ok {
			delete(r.entries, token)
			freed++
		}
	}
	r.sweepLocked()

	return freed
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *registry) sweepLocked() {
	now := r.now()
	for token, entry := range r.entries {
		if !now.Before(entry.expires) {
			delete(r.entries, token)
		}
	}
}
