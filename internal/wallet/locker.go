package wallet

import (
	"fmt"
	"sort"
	"sync"
)

// Locker serializes work on a single (user, asset) holding within this
// process. Entries are dropped once nobody holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

func lockKey(userID int64, code string) string {
	return fmt.Sprintf("%d:%s", userID, code)
}

// Lock blocks until the holding is free and returns the matching unlock
func (l *Locker) Lock(userID int64, code string) (unlock func()) {
	key := lockKey(userID, code)

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockAll locks several holdings of one user in a stable order
func (l *Locker) LockAll(userID int64, codes ...string) (unlock func()) {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for i, c := range sorted {
		if i > 0 && sorted[i-1] == c {
			continue
		}
		unlocks = append(unlocks, l.Lock(userID, c))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
