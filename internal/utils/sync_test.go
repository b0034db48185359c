package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalRWMutexDisabledIsReentrant(t *testing.T) {
	m := OptionalRWMutex{UseMutex: false}

	// Nothing is actually locked, so nesting must not deadlock
	m.Lock()
	m.Lock()
	m.RLock()
	m.RUnlock()
	m.Unlock()
	m.Unlock()
}

func TestOptionalRWMutexSerializesWriters(t *testing.T) {
	m := OptionalRWMutex{UseMutex: true}

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock()
			defer m.Unlock()
			counter++
		}()
	}
	wg.Wait()

	m.RLock()
	defer m.RUnlock()
	require.Equal(t, 50, counter)
}
