package game

import "sync"

// gameLocks hands out one mutex per game so that read-validate-write
// sequences on the same game never interleave. Different games never
// contend. An entry lives only while someone holds or waits for it.
type gameLocks struct {
	mu    sync.Mutex
	locks map[string]*gameLock
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[string]*gameLock)}
}

// lock acquires the game's mutex and returns its unlock function.
func (l *gameLocks) lock(gameID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[gameID]
	if !ok {
		entry = &gameLock{}
		l.locks[gameID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, gameID)
		}
		l.mu.Unlock()
	}
}

func (l *gameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
