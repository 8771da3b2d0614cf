package generate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/archeval/arbiter/internal/models"
)

// ProblemTemplate is one authored problem fixture: the keyword set used to
// classify free-form problem text plus the full bundle content generated
// for a match.
type ProblemTemplate struct {
	Name         string               `yaml:"name" json:"name"`
	Description  string               `yaml:"description" json:"description"`
	Keywords     []string             `yaml:"keywords" json:"keywords"`
	Problem      string               `yaml:"problem" json:"problem"`
	Requirements []models.Requirement `yaml:"requirements" json:"requirements"`
	Tests        []models.TestCase    `yaml:"tests" json:"tests"`
	Candidates   []models.Candidate   `yaml:"candidates" json:"candidates"`
}

// Loader manages loading and caching of problem templates
type Loader struct {
	mu        sync.RWMutex
	templates map[string]*ProblemTemplate
}

// NewLoader creates a new template loader
func NewLoader() *Loader {
	return &Loader{
		templates: make(map[string]*ProblemTemplate),
	}
}

// LoadFromDir loads all YAML problem templates from a directory
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading problem templates", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load problem template", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("problem templates loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single problem template from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var tmpl ProblemTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(tmpl.Keywords) == 0 {
		return fmt.Errorf("template %s: at least one keyword is required", tmpl.Name)
	}

	// A fixture that produces a broken bundle is a fixture bug: fail load,
	// not generation.
	bundle := tmpl.Bundle(tmpl.Problem)
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("template %s: %w", tmpl.Name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[tmpl.Name] = &tmpl

	return nil
}

// Get retrieves a template by name, or nil
func (l *Loader) Get(name string) *ProblemTemplate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.templates[name]
}

// List returns all loaded templates sorted by name
func (l *Loader) List() []*ProblemTemplate {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*ProblemTemplate, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Match classifies free-form problem text against the loaded templates and
// returns the best keyword match, or nil when nothing matches.
func (l *Loader) Match(problem string) *ProblemTemplate {
	text := strings.ToLower(problem)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var best *ProblemTemplate
	bestHits := 0
	for _, t := range l.templates {
		hits := 0
		for _, kw := range t.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && best != nil && t.Name < best.Name) {
			best = t
			bestHits = hits
		}
	}

	if bestHits == 0 {
		return nil
	}
	return best
}

// Bundle instantiates the template content as a fresh bundle for the given
// problem text. Slices are copied so callers can never mutate the template.
func (t *ProblemTemplate) Bundle(problem string) *models.Bundle {
	if problem == "" {
		problem = t.Problem
	}

	b := &models.Bundle{
		Problem:      problem,
		Requirements: make([]models.Requirement, len(t.Requirements)),
		Tests:        make([]models.TestCase, len(t.Tests)),
		Candidates:   make([]models.Candidate, len(t.Candidates)),
	}
	copy(b.Requirements, t.Requirements)
	copy(b.Tests, t.Tests)
	copy(b.Candidates, t.Candidates)
	return b
}
