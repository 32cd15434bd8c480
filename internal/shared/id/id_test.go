package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	assert.NotEqual(t, id1.String(), id2.String())
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{SessionPrefix, ContextPrefix, WritePrefix} {
		id := gen.GenerateWithPrefix(prefix)
		require.True(t, strings.HasPrefix(id, prefix+"_"), id)

		parts := strings.Split(id, "_")
		require.Len(t, parts, 2)
		assert.True(t, IsValid(parts[1]), "ULID part should be valid: %s", parts[1])
	}
}

func TestTypedIDFormat(t *testing.T) {
	ids := map[string]string{
		SessionPrefix: NewSessionID().String(),
		ContextPrefix: NewContextID().String(),
		WritePrefix:   NewWriteID().String(),
	}

	for prefix, id := range ids {
		parts := strings.Split(id, "_")
		require.Len(t, parts, 2, id)
		assert.Equal(t, prefix, parts[0])
		assert.Len(t, parts[1], 26)
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(NewGenerator().GenerateString()))

	for _, id := range []string{"", "invalid", "1234567890", "zzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		assert.False(t, IsValid(id), "ID should be invalid: %q", id)
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now()
	id := NewGenerator().GenerateString()
	after := time.Now()

	ts, err := Timestamp(id)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, ts.UnixMilli(), before.UnixMilli())
	assert.LessOrEqual(t, ts.UnixMilli(), after.UnixMilli())
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	ids := make(chan string, goroutines*perGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ids <- gen.GenerateString()
			}
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate ID: %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestMonotonicOrdering(t *testing.T) {
	gen := NewGenerator()

	prev := gen.GenerateString()
	for i := 0; i < 100; i++ {
		next := gen.GenerateString()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestDefaultGenerator(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.True(t, IsValid(Default().GenerateString()))
}

func BenchmarkGenerateWithPrefix(b *testing.B) {
	gen := NewGenerator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gen.GenerateWithPrefix(SessionPrefix)
	}
}
