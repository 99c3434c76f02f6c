package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameLocksAreExclusivePerGame(t *testing.T) {
	locks := newGameLocks()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("g1")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, locks.size())
}

func TestGameLocksReleaseIdleEntries(t *testing.T) {
	locks := newGameLocks()

	unlockA := locks.lock("a")
	unlockB := locks.lock("b")
	assert.Equal(t, 2, locks.size())

	unlockA()
	assert.Equal(t, 1, locks.size())
	unlockB()
	assert.Zero(t, locks.size())
}
