// Package audit holds the checklist template registry and the scoring
// engine that turns an auditor's answers into a pass/fail decision.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/models"
)

const (
	defaultPassThreshold = 90
	defaultMinimumScore  = 80
)

// templateSchema validates checklist template files before they are
// registered. A malformed template must never reach the scoring engine.
const templateSchema = `{
	"type": "object",
	"required": ["templateCode", "version", "categories"],
	"properties": {
		"templateCode": {"type": "string", "minLength": 1},
		"version": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"passThreshold": {"type": "number", "minimum": 0, "maximum": 100},
		"categories": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["code", "weight", "items"],
				"properties": {
					"code": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"weight": {"type": "number", "exclusiveMinimum": 0},
					"minimumScore": {"type": "number", "minimum": 0, "maximum": 100},
					"zeroTolerance": {"type": "boolean"},
					"items": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["code", "maxScore", "weight"],
							"properties": {
								"code": {"type": "string", "minLength": 1},
								"text": {"type": "string"},
								"maxScore": {"type": "number", "exclusiveMinimum": 0},
								"weight": {"type": "number", "exclusiveMinimum": 0},
								"critical": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

// Registry holds immutable checklist templates keyed by code and version.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*models.ChecklistTemplate
	schema    *gojsonschema.Schema
	log       logger.Logger
}

func NewRegistry(log logger.Logger) (*Registry, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(templateSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling template schema: %w", err)
	}
	return &Registry{
		templates: make(map[string]*models.ChecklistTemplate),
		schema:    schema,
		log:       log,
	}, nil
}

func templateKey(code, version string) string {
	return code + "@" + version
}

// RegisterJSON validates raw template JSON against the schema and registers
// it. Re-registering an existing code+version is rejected; templates are
// immutable, corrections ship as a new version.
func (r *Registry) RegisterJSON(raw []byte) (*models.ChecklistTemplate, error) {
	result, err := r.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.NewTemplateInvalidError(err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return nil, errors.NewTemplateInvalidError(strings.Join(details, "; "))
	}

	var tpl models.ChecklistTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return nil, errors.NewTemplateInvalidError(err.Error())
	}
	applyTemplateDefaults(&tpl)
	if err := checkDuplicateCodes(&tpl); err != nil {
		return nil, err
	}

	key := templateKey(tpl.TemplateCode, tpl.Version)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[key]; exists {
		return nil, errors.NewTemplateInvalidError("template " + key + " is already registered")
	}
	r.templates[key] = &tpl

	r.log.Info("checklist template registered", map[string]interface{}{
		"templateCode": tpl.TemplateCode,
		"version":      tpl.Version,
		"categories":   len(tpl.Categories),
	})
	return &tpl, nil
}

func applyTemplateDefaults(tpl *models.ChecklistTemplate) {
	if tpl.PassThreshold == 0 {
		tpl.PassThreshold = defaultPassThreshold
	}
	for i := range tpl.Categories {
		if tpl.Categories[i].MinimumScore == 0 {
			tpl.Categories[i].MinimumScore = defaultMinimumScore
		}
	}
}

func checkDuplicateCodes(tpl *models.ChecklistTemplate) error {
	seenCat := make(map[string]bool)
	seenItem := make(map[string]bool)
	for _, cat := range tpl.Categories {
		if seenCat[cat.Code] {
			return errors.NewTemplateInvalidError("duplicate category code: " + cat.Code)
		}
		seenCat[cat.Code] = true
		for _, item := range cat.Items {
			if seenItem[item.Code] {
				return errors.NewTemplateInvalidError("duplicate item code: " + item.Code)
			}
			seenItem[item.Code] = true
		}
	}
	return nil
}

// LoadDir registers every *.json file in dir.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading template directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}
		if _, err := r.RegisterJSON(raw); err != nil {
			return fmt.Errorf("template %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Get returns the template for code+version.
func (r *Registry) Get(code, version string) (*models.ChecklistTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[templateKey(code, version)]
	if !ok {
		return nil, errors.NewTemplateNotFoundError(code, version)
	}
	return tpl, nil
}
