package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_WritesPIDAndCleansUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	fl := NewFileLock(path)

	require.NoError(t, fl.TryLock())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(content))

	require.NoError(t, fl.Unlock())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "unlock removes the lock file")

	// Unlock on an unheld lock is a no-op.
	assert.NoError(t, fl.Unlock())
}

func TestFileLock_Reacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	fl := NewFileLock(path)

	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.Unlock())
	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.Unlock())
}

func TestMutexMap_SerializesPerKey(t *testing.T) {
	m := NewMutexMap()
	var a, b int
	counters := map[string]*int{"a": &a, "b": &b}
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				m.Lock(key)
				defer m.Unlock(key)
				*counters[key]++
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
}
