package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/shared/errors"
)

func TestNewDescriptor(t *testing.T) {
	d, err := New("effect",
		[]SeedFile{{Path: "package.json", Content: `{"dependencies":{"effect":"latest"}}`}},
		[]string{"package.json"},
	)
	require.NoError(t, err)

	assert.Equal(t, "effect", d.Name())
	assert.Equal(t, []string{"package.json"}, d.FilesOfInterest())

	content, ok := d.Seed("package.json")
	require.True(t, ok)
	assert.Equal(t, `{"dependencies":{"effect":"latest"}}`, content)
}

func TestNewDescriptorValidation(t *testing.T) {
	tests := []struct {
		name     string
		wsName   string
		seeds    []SeedFile
		interest []string
	}{
		{name: "empty name", wsName: "  "},
		{name: "slash in name", wsName: "a/b"},
		{name: "leading dot", wsName: ".hidden"},
		{name: "space in name", wsName: "my tutorial"},
		{name: "duplicate seed", wsName: "w", seeds: []SeedFile{{Path: "a.js"}, {Path: "./a.js"}}},
		{name: "absolute seed", wsName: "w", seeds: []SeedFile{{Path: "/etc/passwd"}}},
		{name: "traversal seed", wsName: "w", seeds: []SeedFile{{Path: "../x"}}},
		{name: "traversal interest", wsName: "w", interest: []string{"a/../../b"}},
		{name: "root interest", wsName: "w", interest: []string{"."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.wsName, tt.seeds, tt.interest)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
		})
	}
}

func TestDescriptorIsImmutable(t *testing.T) {
	seeds := []SeedFile{{Path: "a.js", Content: "1"}}
	interest := []string{"a.js"}

	d := MustNew("w", seeds, interest)

	seeds[0].Content = "mutated"
	interest[0] = "b.js"
	assert.Equal(t, "1", d.SeedFiles()[0].Content)
	assert.Equal(t, []string{"a.js"}, d.FilesOfInterest())

	got := d.SeedFiles()
	got[0].Content = "mutated"
	assert.Equal(t, "1", d.SeedFiles()[0].Content)
}

func TestDescriptorEqualityByName(t *testing.T) {
	a := MustNew("effect", []SeedFile{{Path: "a.js"}}, nil)
	b := MustNew("effect", []SeedFile{{Path: "b.js"}}, nil)
	c := MustNew("other", nil, nil)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestMountSetCreatesMissingInterest(t *testing.T) {
	d := MustNew("w",
		[]SeedFile{{Path: "package.json", Content: "{}"}},
		[]string{"package.json", "src/new.ts", "src/new.ts"},
	)

	assert.Equal(t, []string{"package.json", "src/new.ts"}, d.FilesOfInterest())
	assert.Equal(t, []SeedFile{
		{Path: "package.json", Content: "{}"},
		{Path: "src/new.ts"},
	}, d.MountSet())
	assert.True(t, d.IsOfInterest("src/new.ts"))
	assert.False(t, d.IsOfInterest("other"))
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.js", want: "a.js"},
		{in: "./src//b.ts", want: "src/b.ts"},
		{in: `src\c.ts`, want: "src/c.ts"},
		{in: "src/../d.ts", want: "d.ts"},
		{in: "", wantErr: true},
		{in: "/abs", wantErr: true},
		{in: "..", wantErr: true},
		{in: "../up", wantErr: true},
		{in: "./", wantErr: true},
	}

	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestBuiltin(t *testing.T) {
	c := Builtin()
	require.Equal(t, 2, c.Len())

	d, ok := c.Get("effect")
	require.True(t, ok)
	assert.Equal(t, []string{"index.js", "package.json"}, d.FilesOfInterest())
}
