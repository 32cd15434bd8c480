package workspace

import (
	"path"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/playground/internal/shared/errors"
)

// MaxNameLength bounds a workspace name
const MaxNameLength = 128

// namePattern keeps names usable as URL segments and directory names
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// SeedFile is one initial file of a workspace
type SeedFile struct {
	Path    string `json:"path" yaml:"path" toml:"path"`
	Content string `json:"content" yaml:"content" toml:"content"`
}

// Descriptor is an immutable, declarative description of a workspace.
// Two descriptors with the same name refer to the same logical workspace.
type Descriptor struct {
	name     string
	seeds    []SeedFile
	interest []string
	index    map[string]int
}

// New validates and builds a descriptor. Inputs are copied.
//
// Every path of interest must either be seeded or be creatable; a path of
// interest with no seed is mounted as an empty file.
func New(name string, seeds []SeedFile, filesOfInterest []string) (Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Descriptor{}, errors.Validation("workspace name is required")
	}
	if len(name) > MaxNameLength || !namePattern.MatchString(name) {
		return Descriptor{}, errors.Validationf("workspace name %q must be at most %d letters, digits, '.', '_' or '-'", name, MaxNameLength)
	}

	d := Descriptor{
		name:     name,
		seeds:    make([]SeedFile, 0, len(seeds)),
		interest: make([]string, 0, len(filesOfInterest)),
		index:    make(map[string]int, len(seeds)),
	}

	for _, seed := range seeds {
		p, err := CleanPath(seed.Path)
		if err != nil {
			return Descriptor{}, errors.Validationf("workspace %q: seed %q: %v", name, seed.Path, err)
		}
		if _, dup := d.index[p]; dup {
			return Descriptor{}, errors.Validationf("workspace %q: duplicate seed path %q", name, p)
		}
		d.index[p] = len(d.seeds)
		d.seeds = append(d.seeds, SeedFile{Path: p, Content: seed.Content})
	}

	seen := make(map[string]bool, len(filesOfInterest))
	for _, raw := range filesOfInterest {
		p, err := CleanPath(raw)
		if err != nil {
			return Descriptor{}, errors.Validationf("workspace %q: file of interest %q: %v", name, raw, err)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		d.interest = append(d.interest, p)
	}

	return d, nil
}

// MustNew is New for statically known descriptors; it panics on invalid input.
func MustNew(name string, seeds []SeedFile, filesOfInterest []string) Descriptor {
	d, err := New(name, seeds, filesOfInterest)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the identity key of the workspace
func (d Descriptor) Name() string {
	return d.name
}

// IsZero reports whether d was never constructed
func (d Descriptor) IsZero() bool {
	return d.name == ""
}

// SeedFiles returns a copy of the ordered seed files
func (d Descriptor) SeedFiles() []SeedFile {
	out := make([]SeedFile, len(d.seeds))
	copy(out, d.seeds)
	return out
}

// FilesOfInterest returns a copy of the ordered paths of interest
func (d Descriptor) FilesOfInterest() []string {
	out := make([]string, len(d.interest))
	copy(out, d.interest)
	return out
}

// Seed returns the initial content of a path
func (d Descriptor) Seed(p string) (string, bool) {
	i, ok := d.index[p]
	if !ok {
		return "", false
	}
	return d.seeds[i].Content, true
}

// IsOfInterest reports whether p is exposed for editing
func (d Descriptor) IsOfInterest(p string) bool {
	for _, candidate := range d.interest {
		if candidate == p {
			return true
		}
	}
	return false
}

// MountSet returns every file the sandbox must receive: the seed files in
// order, followed by empty files for paths of interest that have no seed.
func (d Descriptor) MountSet() []SeedFile {
	out := d.SeedFiles()
	for _, p := range d.interest {
		if _, ok := d.index[p]; !ok {
			out = append(out, SeedFile{Path: p})
		}
	}
	return out
}

// Equal reports whether two descriptors share an identity
func (d Descriptor) Equal(other Descriptor) bool {
	return d.name == other.name
}

// CleanPath normalizes a workspace-relative, slash-separated path and
// rejects absolute paths and parent traversal.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", errors.New("path must be relative")
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", errors.New("path names the workspace root")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("path escapes the workspace")
	}
	return cleaned, nil
}
