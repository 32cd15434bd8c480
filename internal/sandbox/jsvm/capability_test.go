package jsvm

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/sandbox"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// collector drains a process output stream in the background
type collector struct {
	mu  sync.Mutex
	buf strings.Builder
}

func collect(r io.Reader) *collector {
	c := &collector{}
	go func() {
		b := make([]byte, 1024)
		for {
			n, err := r.Read(b)
			c.mu.Lock()
			c.buf.Write(b[:n])
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func newCapability(t *testing.T) *Capability {
	t.Helper()
	c, err := New(Config{PoolSize: 2, ScriptTimeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mountWorkspace(t *testing.T, c *Capability, name string) sandbox.Context {
	t.Helper()
	d, ok := workspace.Builtin().Get(name)
	require.True(t, ok)

	sc, err := c.Create(context.Background(), name)
	require.NoError(t, err)

	files := make([]sandbox.File, 0)
	for _, f := range d.MountSet() {
		files = append(files, sandbox.File{Path: f.Path, Content: f.Content})
	}
	require.NoError(t, sc.Mount(context.Background(), files))
	return sc
}

func mountFiles(t *testing.T, c *Capability, files map[string]string) sandbox.Context {
	t.Helper()
	sc, err := c.Create(context.Background(), "inline")
	require.NoError(t, err)
	list := make([]sandbox.File, 0, len(files))
	for p, content := range files {
		list = append(list, sandbox.File{Path: p, Content: content})
	}
	require.NoError(t, sc.Mount(context.Background(), list))
	t.Cleanup(func() { _ = sc.Close() })
	return sc
}

func TestBootHelloWorkspace(t *testing.T) {
	c := newCapability(t)
	sc := mountWorkspace(t, c, "hello")

	require.NoError(t, sc.Install(context.Background()))
	proc, err := sc.Spawn(context.Background())
	require.NoError(t, err)
	out := collect(proc.Output())

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "$ node main.js\r\nHello, playground!\r\n> ")
	}, waitFor, tick)

	_, err = proc.Input().Write([]byte("require('./greet')('repl')\r"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Hello, repl!\r\n> ")
	}, waitFor, tick)

	require.NoError(t, sc.Close())
	assert.Equal(t, 2, c.Stats().Available)
}

func TestInstallStubsDependencies(t *testing.T) {
	c := newCapability(t)
	sc := mountWorkspace(t, c, "effect")
	t.Cleanup(func() { _ = sc.Close() })

	require.NoError(t, sc.Install(context.Background()))
	proc, err := sc.Spawn(context.Background())
	require.NoError(t, err)
	out := collect(proc.Output())

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "$ npm install\r\nadded 1 packages\r\n") &&
			strings.Contains(s, "result: 42\r\n")
	}, waitFor, tick)

	stub, err := sc.ReadFile(context.Background(), "node_modules/effect/package.json")
	require.NoError(t, err)
	assert.Contains(t, stub, `"name":"effect"`)
}

func TestInstallErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "invalid package.json",
			files: map[string]string{"package.json": `{"dependencies":`},
			want:  "parse package.json",
		},
		{
			name:  "unsupported start script",
			files: map[string]string{"package.json": `{"scripts":{"start":"vite --open"}}`},
			want:  "unsupported start script",
		},
		{
			name:  "missing entry",
			files: map[string]string{"package.json": `{"main":"server.js"}`},
			want:  `cannot find entry module "server.js"`,
		},
	}

	c := newCapability(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := mountFiles(t, c, tt.files)
			err := sc.Install(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInstallPrintsUserErrors(t *testing.T) {
	c := newCapability(t)
	sc := mountFiles(t, c, map[string]string{
		"index.js": `throw new Error("tutorial bug")`,
	})

	require.NoError(t, sc.Install(context.Background()))
	proc, err := sc.Spawn(context.Background())
	require.NoError(t, err)
	out := collect(proc.Output())

	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "tutorial bug") }, waitFor, tick)
}

func TestWriteFileReloadsModules(t *testing.T) {
	c := newCapability(t)
	sc := mountFiles(t, c, map[string]string{"value.js": `module.exports = "old"`})

	require.NoError(t, sc.Install(context.Background()))
	proc, err := sc.Spawn(context.Background())
	require.NoError(t, err)
	out := collect(proc.Output())

	_, _ = proc.Input().Write([]byte("require('./value')\n"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "old\r\n") }, waitFor, tick)

	require.NoError(t, sc.WriteFile(context.Background(), "value.js", `module.exports = "new"`))
	content, err := sc.ReadFile(context.Background(), "value.js")
	require.NoError(t, err)
	assert.Equal(t, `module.exports = "new"`, content)

	_, _ = proc.Input().Write([]byte("require('./value')\n"))
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "new\r\n") }, waitFor, tick)
}

func TestCloseKillsProcessAndRejects(t *testing.T) {
	c := newCapability(t)
	sc := mountFiles(t, c, map[string]string{"a.txt": "x"})
	proc, err := sc.Spawn(context.Background())
	require.NoError(t, err)

	require.NoError(t, sc.Close())
	require.NoError(t, sc.Close())
	require.NoError(t, proc.Wait())

	_, err = proc.Input().Write([]byte("1\n"))
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.ErrorIs(t, sc.WriteFile(context.Background(), "a.txt", "y"), ErrContextClosed)
	_, err = sc.Spawn(context.Background())
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestCreateRespectsPoolBound(t *testing.T) {
	c, err := New(Config{PoolSize: 1, AcquireTimeout: 30 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	first, err := c.Create(context.Background(), "a")
	require.NoError(t, err)

	_, err = c.Create(context.Background(), "b")
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, first.Close())
	second, err := c.Create(context.Background(), "b")
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
