// Package workflow loads and validates declarative workflow definitions. The
// orchestrator only reads definitions; they are produced by configuration
// tooling outside this repository.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrDefinitionNotFound indicates no definition exists for the given ID.
var ErrDefinitionNotFound = errors.New("workflow definition not found")

// Repository is the read-only source of workflow definitions.
type Repository interface {
	Definition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// FileRepository reads definitions from a directory of JSON documents, one
// file per definition, named <id>.json. Documents are validated against the
// definition schema and then against the struct validation tags.
type FileRepository struct {
	root     string
	validate *validator.Validate
	schema   *gojsonschema.Schema
}

// NewFileRepository creates a repository rooted at the given directory.
func NewFileRepository(root string) (*FileRepository, error) {
	root = strings.Replace(root, "file://", "", 1)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition schema: %w", err)
	}

	return &FileRepository{
		root:     root,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schema:   schema,
	}, nil
}

// Definition loads and validates a single definition by ID.
func (r *FileRepository) Definition(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	path := filepath.Join(r.root, id+".json")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("definition %s: %w", id, ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to read definition %s: %w", id, err)
	}

	return r.parse(id, raw)
}

// Definitions loads every definition in the directory.
func (r *FileRepository) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	files, err := fs.Glob(os.DirFS(r.root), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(files))

	for _, file := range files {
		id := strings.TrimSuffix(file, ".json")

		definition, err := r.Definition(ctx, id)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}

func (r *FileRepository) parse(id string, raw []byte) (*models.WorkflowDefinition, error) {
	result, err := r.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate definition %s: %w", id, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("definition %s is invalid: %s", id, strings.Join(details, "; "))
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(raw, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition %s: %w", id, err)
	}

	if definition.ID == "" {
		definition.ID = id
	}

	err = r.validate.Struct(&definition)
	if err != nil {
		return nil, fmt.Errorf("definition %s failed validation: %w", id, err)
	}

	err = validateDependencies(&definition)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", id, err)
	}

	return &definition, nil
}

// validateDependencies rejects references to unknown steps and self-references.
func validateDependencies(definition *models.WorkflowDefinition) error {
	stepIDs := make(map[string]bool, len(definition.Steps))
	for _, step := range definition.Steps {
		if stepIDs[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}

		stepIDs[step.ID] = true
	}

	for _, step := range definition.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return fmt.Errorf("step %q depends on itself", step.ID)
			}

			if !stepIDs[dep] {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
		}
	}

	return nil
}
