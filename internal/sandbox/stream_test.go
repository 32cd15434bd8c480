package sandbox

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPreservesOrder(t *testing.T) {
	s := NewStream()

	for _, chunk := range []string{"npm ", "install\n", "added 1 package\n"} {
		_, err := s.WriteString(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	data, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "npm install\nadded 1 package\n", string(data))
}

func TestStreamReadBlocksUntilWrite(t *testing.T) {
	s := NewStream()

	var wg sync.WaitGroup
	wg.Add(1)
	got := make(chan string, 1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 16)
		n, _ := s.Read(buf)
		got <- string(buf[:n])
	}()

	_, err := s.WriteString("ready")
	require.NoError(t, err)
	wg.Wait()
	assert.Equal(t, "ready", <-got)
}

func TestStreamClose(t *testing.T) {
	s := NewStream()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.WriteString("late")
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	_, err = s.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamCloseWithError(t *testing.T) {
	s := NewStream()
	_, _ = s.WriteString("tail")
	boom := io.ErrUnexpectedEOF
	require.NoError(t, s.CloseWithError(boom))

	assert.Equal(t, 4, s.Buffered())
	buf := make([]byte, 8)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf[:n]))

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, boom)
}
