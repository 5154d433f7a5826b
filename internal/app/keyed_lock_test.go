package app

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockSameKeyExcludes(t *testing.T) {
	l := newKeyedLock()
	unlock := l.Lock("n-1")

	acquired := make(chan struct{})
	go func() {
		release := l.Lock("n-1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	require.Eventually(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestKeyedLockDistinctKeysNeverContend(t *testing.T) {
	l := newKeyedLock()
	unlock := l.Lock("n-slow")
	defer unlock()

	// None of these keys may wait on n-slow.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			l.Lock(fmt.Sprintf("n-%d", i))()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("an unrelated key waited on a held key")
	}
	assert.Equal(t, 1, l.size())
}

func TestKeyedLockReleasesEntries(t *testing.T) {
	l := newKeyedLock()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("entity")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, l.size())
}
