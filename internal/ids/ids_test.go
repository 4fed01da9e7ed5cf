package ids

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^[0-9]+-[0-9a-z]{9}$`)

func TestNewAt_Format(t *testing.T) {
	t.Parallel()
	at := time.UnixMilli(1700000000123)
	id := NewAt(at)
	assert.Regexp(t, idPattern, id)
	assert.Equal(t, "1700000000123-", id[:14])
}

func TestNew_UniqueAcrossConcurrentCallers(t *testing.T) {
	t.Parallel()
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}
