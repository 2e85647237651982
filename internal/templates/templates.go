// Package templates serves canned diagram scripts embedded in the binary.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed scripts/catalog.toml scripts/*.js
var scriptsFS embed.FS

var (
	ErrUnknownTemplate = errors.New("templates: unknown template")
	ErrInvalidCatalog  = errors.New("templates: invalid catalog")
)

// Template is one named diagram script.
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Script      string   `json:"-"`
}

type catalogFile struct {
	Templates []struct {
		Name        string   `toml:"name"`
		Description string   `toml:"description"`
		File        string   `toml:"file"`
		Tags        []string `toml:"tags"`
	} `toml:"template"`
}

// Catalog is an immutable set of templates keyed by name.
type Catalog struct {
	byName map[string]Template
	names  []string
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	raw, err := scriptsFS.ReadFile("scripts/catalog.toml")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return parse(raw, func(name string) ([]byte, error) {
		return scriptsFS.ReadFile(path.Join("scripts", name))
	})
}

func parse(raw []byte, readScript func(string) ([]byte, error)) (*Catalog, error) {
	var file catalogFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	c := &Catalog{byName: make(map[string]Template, len(file.Templates))}
	for _, entry := range file.Templates {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: template without name", ErrInvalidCatalog)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate template %q", ErrInvalidCatalog, name)
		}
		script, err := readScript(entry.File)
		if err != nil {
			return nil, fmt.Errorf("%w: template %q: %v", ErrInvalidCatalog, name, err)
		}
		c.byName[name] = Template{
			Name:        name,
			Description: entry.Description,
			Tags:        entry.Tags,
			Script:      string(script),
		}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// MustLoad panics if the embedded catalog is broken.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// List returns every template sorted by name.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.byName[name])
	}
	return out
}

func (c *Catalog) Get(name string) (Template, error) {
	t, ok := c.byName[strings.TrimSpace(name)]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}
