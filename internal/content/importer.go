package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// Grader runs reference solutions in the sandbox.
type Grader interface {
	Grade(ctx context.Context, schema models.ProblemSchema, query string) (sandbox.Result, grading.Verdict, error)
	Derive(ctx context.Context, schema models.ProblemSchema) ([]byte, error)
}

// Options selects the optional sandbox passes of an import.
type Options struct {
	// Verify runs every solution and compares it to its expected output.
	Verify bool
	// Derive fills missing expected output from the solution's result.
	Derive bool
	// DryRun validates and verifies without writing to the catalog.
	DryRun bool
}

// Report summarises an import.
type Report struct {
	Categories int      `json:"categories"`
	Problems   int      `json:"problems"`
	Schemas    int      `json:"schemas"`
	Paths      int      `json:"paths"`
	Derived    int      `json:"derived"`
	Verified   int      `json:"verified"`
	Failures   []string `json:"failures,omitempty"`
}

// Importer upserts a bundle into the catalog.
type Importer struct {
	problems repository.ProblemRepository
	paths    repository.LearningPathRepository
	grader   Grader
	logger   zerolog.Logger
}

// NewImporter constructs an importer. grader may be nil when neither Verify nor
// Derive is requested.
func NewImporter(problems repository.ProblemRepository, paths repository.LearningPathRepository, grader Grader, logger zerolog.Logger) *Importer {
	return &Importer{
		problems: problems,
		paths:    paths,
		grader:   grader,
		logger:   logger.With().Str("component", "content_importer").Logger(),
	}
}

// Import writes categories, problems with their schemas, then learning paths.
// Verification failures are collected in the report; storage errors abort.
func (i *Importer) Import(ctx context.Context, bundle Bundle, opts Options) (Report, error) {
	if (opts.Verify || opts.Derive) && i.grader == nil {
		return Report{}, errors.New("a sandbox is required to verify or derive expected output")
	}

	var report Report

	categoryIDs := make(map[string]uint, len(bundle.Categories))
	for _, spec := range bundle.Categories {
		category := models.Category{
			Slug:        spec.Slug,
			Name:        spec.Name,
			Description: spec.Description,
			SortOrder:   spec.SortOrder,
		}
		if !opts.DryRun {
			if err := i.problems.UpsertCategory(ctx, &category); err != nil {
				return report, fmt.Errorf("category %s: %w", spec.Slug, err)
			}
		}
		categoryIDs[spec.Slug] = category.ID
		report.Categories++
	}
	if !opts.DryRun && len(bundle.Categories) > 0 {
		// Upserts that hit an existing slug do not report the id back.
		stored, err := i.problems.ListCategories(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to reload categories: %w", err)
		}
		for _, category := range stored {
			categoryIDs[category.Slug] = category.ID
		}
	}

	for _, spec := range bundle.Problems {
		problem, err := buildProblem(spec, categoryIDs)
		if err != nil {
			return report, err
		}
		if !opts.DryRun {
			if err := i.problems.UpsertProblem(ctx, &problem); err != nil {
				return report, fmt.Errorf("problem %d: %w", spec.ID, err)
			}
		}
		report.Problems++

		for _, schemaSpec := range spec.Schemas {
			schema, err := buildSchema(problem, schemaSpec)
			if err != nil {
				return report, fmt.Errorf("problem %d: %w", spec.ID, err)
			}
			if len(schemaSpec.Expected) == 0 && opts.Derive {
				expected, err := i.grader.Derive(ctx, schema)
				if err != nil {
					report.Failures = append(report.Failures, fmt.Sprintf("problem %d (%s): derive failed: %v", spec.ID, schema.Dialect, err))
					continue
				}
				schema.ExpectedOutput = datatypes.JSON(expected)
				report.Derived++
			}
			if len(schema.ExpectedOutput) == 0 {
				report.Failures = append(report.Failures, fmt.Sprintf("problem %d (%s): expected output missing", spec.ID, schema.Dialect))
				continue
			}

			if opts.Verify {
				if failure := i.verify(ctx, spec.ID, schema); failure != "" {
					report.Failures = append(report.Failures, failure)
				} else {
					report.Verified++
				}
			}

			if !opts.DryRun {
				if err := i.problems.UpsertSchema(ctx, &schema); err != nil {
					return report, fmt.Errorf("problem %d (%s): %w", spec.ID, schema.Dialect, err)
				}
			}
			report.Schemas++
		}
	}

	for _, spec := range bundle.LearningPaths {
		path, err := i.buildPath(ctx, spec, bundle, opts.DryRun)
		if err != nil {
			return report, err
		}
		if !opts.DryRun {
			if err := i.paths.UpsertPath(ctx, &path); err != nil {
				return report, fmt.Errorf("learning path %s: %w", spec.Slug, err)
			}
		}
		report.Paths++
	}

	i.logger.Info().
		Int("categories", report.Categories).
		Int("problems", report.Problems).
		Int("schemas", report.Schemas).
		Int("paths", report.Paths).
		Int("failures", len(report.Failures)).
		Bool("dry_run", opts.DryRun).
		Msg("content import finished")
	return report, nil
}

func (i *Importer) verify(ctx context.Context, problemID int, schema models.ProblemSchema) string {
	source, err := dialect.Parse(schema.Dialect)
	if err != nil {
		return fmt.Sprintf("problem %d (%s): %v", problemID, schema.Dialect, err)
	}

	_, verdict, err := i.grader.Grade(ctx, schema, dialect.Translate(schema.SolutionSQL, source))
	if err != nil {
		return fmt.Sprintf("problem %d (%s): solution failed: %v", problemID, schema.Dialect, err)
	}
	if !verdict.IsCorrect {
		return fmt.Sprintf("problem %d (%s): solution does not match expected output: %s", problemID, schema.Dialect, verdict.Message)
	}
	return ""
}

func (i *Importer) buildPath(ctx context.Context, spec PathSpec, bundle Bundle, dryRun bool) (models.LearningPath, error) {
	inBundle := make(map[int]bool, len(bundle.Problems))
	for _, problem := range bundle.Problems {
		inBundle[problem.ID] = true
	}

	path := models.LearningPath{
		Slug:           spec.Slug,
		Name:           spec.Name,
		Description:    spec.Description,
		Difficulty:     spec.Difficulty,
		EstimatedHours: spec.EstimatedHours,
		SortOrder:      spec.SortOrder,
		IsActive:       true,
	}

	for index, step := range spec.Steps {
		// A dry run never stored the bundle's problems, so only ids outside
		// the bundle are looked up.
		var problem models.Problem
		if !dryRun || !inBundle[step.Problem] {
			found, err := i.problems.GetByNumericID(ctx, step.Problem)
			if err != nil {
				if repository.IsNotFound(err) {
					return models.LearningPath{}, fmt.Errorf("%w: learning path %s references unknown problem %d", ErrInvalidBundle, spec.Slug, step.Problem)
				}
				return models.LearningPath{}, fmt.Errorf("learning path %s: %w", spec.Slug, err)
			}
			problem = found
		}

		title := step.Title
		if title == "" {
			title = problem.Title
		}
		path.Steps = append(path.Steps, models.LearningPathStep{
			StepOrder:   index + 1,
			ProblemID:   problem.ID,
			Title:       title,
			Description: step.Description,
		})
	}
	return path, nil
}

func buildProblem(spec ProblemSpec, categoryIDs map[string]uint) (models.Problem, error) {
	hints := spec.Hints
	if hints == nil {
		hints = []string{}
	}
	encodedHints, err := json.Marshal(hints)
	if err != nil {
		return models.Problem{}, fmt.Errorf("problem %d: %w", spec.ID, err)
	}

	problem := models.Problem{
		NumericID:   spec.ID,
		Title:       strings.TrimSpace(spec.Title),
		Slug:        spec.Slug,
		Description: strings.TrimSpace(spec.Description),
		Difficulty:  strings.ToLower(spec.Difficulty),
		Tags:        strings.Join(spec.Tags, ","),
		Hints:       datatypes.JSON(encodedHints),
		IsActive:    spec.IsActive(),
	}
	if problem.Slug == "" {
		problem.Slug = slugify(problem.Title)
	}
	if spec.Category != "" {
		if id, ok := categoryIDs[spec.Category]; ok && id != 0 {
			problem.CategoryID = &id
		}
	}
	return problem, nil
}

func buildSchema(problem models.Problem, spec SchemaSpec) (models.ProblemSchema, error) {
	d, err := dialect.Parse(spec.Dialect)
	if err != nil {
		return models.ProblemSchema{}, err
	}

	schema := models.ProblemSchema{
		ProblemID:   problem.ID,
		Dialect:     d.String(),
		SetupSQL:    strings.TrimSpace(spec.Setup),
		SolutionSQL: strings.TrimSpace(spec.Solution),
		IsActive:    true,
	}
	if len(spec.Expected) > 0 {
		encoded, err := json.Marshal(spec.Expected)
		if err != nil {
			return models.ProblemSchema{}, err
		}
		if _, err := grading.ParseExpected(encoded); err != nil {
			return models.ProblemSchema{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}
		schema.ExpectedOutput = datatypes.JSON(encoded)
	}
	return schema, nil
}

func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
