package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTokenShape(t *testing.T) {
	token := NewToken()
	assert.Len(t, token, 26)
}

func TestNewTokenUnique(t *testing.T) {
	const n = 1000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		token := NewToken()
		_, dup := seen[token]
		assert.False(t, dup, "duplicate token %s", token)
		seen[token] = struct{}{}
	}
}

func TestNewTokenConcurrent(t *testing.T) {
	const workers = 16
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				token := NewToken()
				mu.Lock()
				seen[token] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
