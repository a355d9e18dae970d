package templates

import (
	"bytes"
	"embed"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/template"

	"bizagents/pkg/errors"
)

//go:embed assets/**/*.tmpl
var embeddedFS embed.FS

// Template is a parsed prompt template
type Template struct {
	ID      string
	Path    string
	Content string

	parsed *template.Template
}

// Render executes the template with the provided data and returns the result.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.parsed.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render template %s", t.ID)
	}

	return buf.String(), nil
}

// Registry holds loaded templates and resolves them by ID.
type Registry struct {
	basePath  string
	fs        fs.FS
	templates map[string]*Template
	mu        sync.RWMutex
}

// NewRegistry loads all templates from the provided base path.
func NewRegistry(basePath string) (*Registry, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errors.Wrap(err, "resolve template base path")
	}

	return NewRegistryFromFS(os.DirFS(absBase), absBase)
}

// NewRegistryFromFS constructs a registry from an arbitrary filesystem.
// rootPath is used for deriving template IDs when walking the filesystem.
func NewRegistryFromFS(filesystem fs.FS, rootPath string) (*Registry, error) {
	r := &Registry{
		basePath:  rootPath,
		fs:        filesystem,
		templates: map[string]*Template{},
	}

	if err := r.loadAll(); err != nil {
		return nil, err
	}

	return r, nil
}

// Get returns the registry of the embedded prompt templates. It panics if they fail to parse.
func Get() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = newEmbeddedRegistry()
	})

	if defaultErr != nil {
		panic(defaultErr)
	}

	return defaultRegistry
}

// GetTemplate retrieves a template by its ID.
func (r *Registry) GetTemplate(id string) (*Template, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[id]
	r.mu.RUnlock()

	if ok {
		return tmpl, nil
	}

	// Attempt lazy load in case the template was added after initialization.
	path := filepath.Join(filepath.FromSlash(id) + ".tmpl")
	if _, err := fs.Stat(r.fs, path); err == nil {
		if err := r.loadTemplate(path); err != nil {
			return nil, err
		}
		r.mu.RLock()
		tmpl = r.templates[id]
		r.mu.RUnlock()
		if tmpl != nil {
			return tmpl, nil
		}
	}

	return nil, errors.Wrapf(errors.ErrNotFound, "template %s", id)
}

// Render executes a template by ID using the provided data.
func (r *Registry) Render(id string, data any) (string, error) {
	tmpl, err := r.GetTemplate(id)
	if err != nil {
		return "", err
	}

	return tmpl.Render(data)
}

// List returns all known template IDs, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.templates))
}

func (r *Registry) loadAll() error {
	return fs.WalkDir(r.fs, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if filepath.Ext(path) != ".tmpl" {
			return nil
		}

		return r.loadTemplate(path)
	})
}

func (r *Registry) loadTemplate(path string) error {
	id := r.pathToID(path)
	content, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return errors.Wrapf(err, "read template %s", id)
	}

	parsed, err := template.New(id).Option("missingkey=error").Funcs(funcs).Parse(string(content))
	if err != nil {
		return errors.Wrapf(err, "parse template %s", id)
	}

	r.mu.Lock()
	r.templates[id] = &Template{
		ID:      id,
		Path:    path,
		Content: string(content),
		parsed:  parsed,
	}
	r.mu.Unlock()

	return nil
}

func (r *Registry) pathToID(rel string) string {
	normalized := filepath.ToSlash(rel)
	normalized = strings.TrimPrefix(normalized, "/")
	return strings.TrimSuffix(normalized, filepath.Ext(normalized))
}

func newEmbeddedRegistry() (*Registry, error) {
	subFS, err := fs.Sub(embeddedFS, "assets")
	if err != nil {
		return nil, errors.Wrap(err, "prepare embedded templates")
	}

	return NewRegistryFromFS(subFS, "assets")
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
}
