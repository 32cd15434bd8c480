package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/saintfish/chardet"

	"github.com/GriffinCanCode/playground/internal/shared/errors"
)

// MaxSeedBytes bounds a single seed file loaded from disk
const MaxSeedBytes = 1 << 20

// document is the on-disk form of a descriptor (YAML or TOML)
type document struct {
	Name            string     `yaml:"name" toml:"name"`
	FilesOfInterest []string   `yaml:"files_of_interest" toml:"files_of_interest"`
	Files           []SeedFile `yaml:"files" toml:"files"`
	SeedDir         string     `yaml:"seed_dir" toml:"seed_dir"`
	Include         []string   `yaml:"include" toml:"include"`
	Exclude         []string   `yaml:"exclude" toml:"exclude"`
}

// Catalog is a name-indexed set of descriptors
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
	order  []string
}

// NewCatalog creates a catalog from descriptors; names must be unique
func NewCatalog(descriptors ...Descriptor) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a descriptor
func (c *Catalog) Add(d Descriptor) error {
	if d.IsZero() {
		return errors.Validation("cannot add an empty descriptor")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName[d.Name()]; exists {
		return errors.Validationf("duplicate workspace name %q", d.Name())
	}
	c.byName[d.Name()] = d
	c.order = append(c.order, d.Name())
	return nil
}

// Get looks up a descriptor by name
func (c *Catalog) Get(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byName[name]
	return d, ok
}

// List returns descriptors in registration order
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Len returns the number of descriptors
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// LoadDir loads every *.yaml, *.yml and *.toml descriptor in dir (not recursive),
// in lexical file order.
func LoadDir(ctx context.Context, dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.ConfigError("read catalog dir", err)
	}

	c := &Catalog{byName: make(map[string]Descriptor)}
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptorFile(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := LoadFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadFile loads a single descriptor file. A relative seed_dir is resolved
// against the file's directory.
func LoadFile(ctx context.Context, file string) (Descriptor, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Descriptor{}, errors.ConfigError("read descriptor", err)
	}

	var doc document
	switch strings.ToLower(filepath.Ext(file)) {
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return Descriptor{}, errors.Validationf("parse %s: %v", file, err)
	}

	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	seeds := doc.Files
	if doc.SeedDir != "" {
		root := doc.SeedDir
		if !filepath.IsAbs(root) {
			root = filepath.Join(filepath.Dir(file), root)
		}
		fromDir, err := loadSeedDir(ctx, root, doc.Include, doc.Exclude)
		if err != nil {
			return Descriptor{}, err
		}
		seeds = mergeSeeds(fromDir, doc.Files)
	}

	interest, err := expandInterest(doc.FilesOfInterest, seeds)
	if err != nil {
		return Descriptor{}, errors.Validationf("workspace %q: %v", doc.Name, err)
	}

	return New(doc.Name, seeds, interest)
}

func isDescriptorFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// loadSeedDir walks root and returns text files matching include (all files
// when empty) and not matching exclude, sorted by path.
func loadSeedDir(ctx context.Context, root string, include, exclude []string) ([]SeedFile, error) {
	for _, pattern := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Validationf("invalid glob %q", pattern)
		}
	}

	var (
		mu    sync.Mutex
		seeds []SeedFile
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchesAny(include, rel, true) || matchesAny(exclude, rel, false) {
			return nil
		}

		content, err := readSeed(p)
		if err != nil {
			return errors.Validationf("seed %s: %v", rel, err)
		}

		mu.Lock()
		seeds = append(seeds, SeedFile{Path: rel, Content: content})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Path < seeds[j].Path })
	return seeds, nil
}

func matchesAny(patterns []string, rel string, emptyMatches bool) bool {
	if len(patterns) == 0 {
		return emptyMatches
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// readSeed loads a text seed, rejecting binary and non UTF-8 content
func readSeed(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.Size() > MaxSeedBytes {
		return "", errors.Validationf("%d bytes exceeds the %d byte seed limit", info.Size(), MaxSeedBytes)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}

	if !isText(mimetype.Detect(data)) {
		return "", errors.Validationf("binary content (%s) cannot be seeded", mimetype.Detect(data).String())
	}
	if !utf8.Valid(data) {
		charset := "unknown"
		if result, err := chardet.NewTextDetector().DetectBest(data); err == nil {
			charset = result.Charset
		}
		return "", errors.Validationf("content is not UTF-8 (detected %s)", charset)
	}
	return string(data), nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// mergeSeeds overlays inline files on directory seeds, keeping directory order
func mergeSeeds(base, overlay []SeedFile) []SeedFile {
	out := make([]SeedFile, 0, len(base)+len(overlay))
	pos := make(map[string]int, len(base))
	for _, s := range base {
		pos[s.Path] = len(out)
		out = append(out, s)
	}
	for _, s := range overlay {
		p, err := CleanPath(s.Path)
		if err == nil {
			if i, ok := pos[p]; ok {
				out[i].Content = s.Content
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// expandInterest resolves glob entries against seed paths; literal entries
// pass through so they can name creatable files.
func expandInterest(entries []string, seeds []SeedFile) ([]string, error) {
	var out []string
	for _, entry := range entries {
		if !strings.ContainsAny(entry, "*?[{") {
			out = append(out, entry)
			continue
		}
		if !doublestar.ValidatePattern(entry) {
			return nil, errors.Validationf("invalid glob %q", entry)
		}
		for _, s := range seeds {
			if ok, _ := doublestar.Match(entry, s.Path); ok {
				out = append(out, s.Path)
			}
		}
	}
	return out, nil
}
