// Package content loads the problem catalog fixture bundle and imports it into
// the catalog database.
package content

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed bundle.schema.json
var bundleSchemaJSON []byte

const bundleSchemaURL = "bundle.schema.json"

// ErrInvalidBundle wraps every structural problem found in a bundle.
var ErrInvalidBundle = errors.New("invalid content bundle")

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Bundle is the decoded fixture document.
type Bundle struct {
	Categories    []CategorySpec `yaml:"categories"`
	Problems      []ProblemSpec  `yaml:"problems"`
	LearningPaths []PathSpec     `yaml:"learning_paths"`
}

// CategorySpec describes a problem category.
type CategorySpec struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	SortOrder   int    `yaml:"sort_order"`
}

// ProblemSpec describes a problem keyed by its numeric id.
type ProblemSpec struct {
	ID          int          `yaml:"id"`
	Title       string       `yaml:"title"`
	Slug        string       `yaml:"slug"`
	Description string       `yaml:"description"`
	Difficulty  string       `yaml:"difficulty"`
	Category    string       `yaml:"category"`
	Tags        []string     `yaml:"tags"`
	Hints       []string     `yaml:"hints"`
	Active      *bool        `yaml:"active"`
	Schemas     []SchemaSpec `yaml:"schemas"`
}

// IsActive defaults to true when the bundle does not say otherwise.
func (p ProblemSpec) IsActive() bool {
	return p.Active == nil || *p.Active
}

// SchemaSpec is the per-dialect environment of a problem. Expected is nil
// when the bundle leaves it to be derived.
type SchemaSpec struct {
	Dialect  string `yaml:"dialect"`
	Setup    string `yaml:"setup"`
	Solution string `yaml:"solution"`
	Expected []any  `yaml:"expected"`
}

// PathSpec describes a learning path. Steps reference problems by numeric id.
type PathSpec struct {
	Slug           string     `yaml:"slug"`
	Name           string     `yaml:"name"`
	Description    string     `yaml:"description"`
	Difficulty     string     `yaml:"difficulty"`
	EstimatedHours int        `yaml:"estimated_hours"`
	SortOrder      int        `yaml:"sort_order"`
	Steps          []StepSpec `yaml:"steps"`
}

// StepSpec is one position within a learning path.
type StepSpec struct {
	Problem     int    `yaml:"problem"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// LoadFile reads and parses the bundle at path.
func LoadFile(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read bundle: %w", err)
	}
	return Parse(data)
}

// Parse validates data against the bundle schema and decodes it.
func Parse(data []byte) (Bundle, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if raw == nil {
		return Bundle{}, fmt.Errorf("%w: document is empty", ErrInvalidBundle)
	}

	schema, err := bundleSchema()
	if err != nil {
		return Bundle{}, err
	}

	// Round trip through JSON so the validator sees json.Number values.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if err := schema.Validate(instance); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if err := bundle.check(); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// check enforces the cross references the schema cannot express.
func (b Bundle) check() error {
	var problems []string

	categories := make(map[string]bool, len(b.Categories))
	for _, category := range b.Categories {
		if categories[category.Slug] {
			problems = append(problems, fmt.Sprintf("duplicate category %q", category.Slug))
		}
		categories[category.Slug] = true
	}

	ids := make(map[int]bool, len(b.Problems))
	for _, problem := range b.Problems {
		if ids[problem.ID] {
			problems = append(problems, fmt.Sprintf("duplicate problem id %d", problem.ID))
		}
		ids[problem.ID] = true

		if problem.Category != "" && !categories[problem.Category] {
			problems = append(problems, fmt.Sprintf("problem %d: unknown category %q", problem.ID, problem.Category))
		}

		dialects := make(map[string]bool, len(problem.Schemas))
		for _, schema := range problem.Schemas {
			if dialects[schema.Dialect] {
				problems = append(problems, fmt.Sprintf("problem %d: duplicate %s schema", problem.ID, schema.Dialect))
			}
			dialects[schema.Dialect] = true
		}
	}

	paths := make(map[string]bool, len(b.LearningPaths))
	for _, path := range b.LearningPaths {
		if paths[path.Slug] {
			problems = append(problems, fmt.Sprintf("duplicate learning path %q", path.Slug))
		}
		paths[path.Slug] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBundle, strings.Join(problems, "; "))
	}
	return nil
}

func bundleSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(bundleSchemaURL, bytes.NewReader(bundleSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load bundle schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(bundleSchemaURL)
	})
	return compiledSchema, schemaErr
}
