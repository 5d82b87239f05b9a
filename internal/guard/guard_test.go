package guard

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExistenceGuard_NoFalseNegatives(t *testing.T) {
	g := New(1000)

	keys := make([]string, 5000)
	for i := range keys {
		keys[i] = fmt.Sprintf("code%d", i)
		g.Add(keys[i])
	}

	for _, key := range keys {
		assert.True(t, g.MightContain(key), "added key %q must never test negative", key)
	}
}

func TestExistenceGuard_DefinitelyAbsent(t *testing.T) {
	g := New(1000)
	g.Add("abc123")

	// A fresh filter with one entry should reject almost everything;
	// assert on a key far from the inserted one rather than on exact
	// false-positive behavior.
	hits := 0
	for i := 0; i < 1000; i++ {
		if g.MightContain(fmt.Sprintf("never-seen-%d", i)) {
			hits++
		}
	}
	assert.Less(t, hits, 50, "false positive rate far above configured bound")
}

func TestExistenceGuard_CaseInsensitive(t *testing.T) {
	g := New(0)
	g.Add("MyAlias")

	assert.True(t, g.MightContain("myalias"))
	assert.True(t, g.MightContain("MYALIAS"))
	assert.True(t, g.MightContain("  MyAlias  "))
}

func TestExistenceGuard_IgnoresEmptyKey(t *testing.T) {
	g := New(0)
	g.Add("")
	assert.False(t, g.MightContain("anything"))
}

func TestExistenceGuard_ConcurrentAccess(t *testing.T) {
	g := New(10000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				key := fmt.Sprintf("w%d-k%d", worker, j)
				g.Add(key)
				if !g.MightContain(key) {
					t.Errorf("key %q missing immediately after Add", key)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
