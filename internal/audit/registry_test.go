// internal/audit/registry_test.go
package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
)

const validTemplateJSON = `{
	"templateCode": "GACP-FIELD",
	"version": "1.0",
	"name": "Field audit checklist",
	"categories": [
		{
			"code": "water",
			"weight": 1,
			"zeroTolerance": true,
			"items": [
				{"code": "water-source", "maxScore": 10, "weight": 1, "critical": false},
				{"code": "water-testing", "maxScore": 10, "weight": 2, "critical": true}
			]
		},
		{
			"code": "storage",
			"weight": 2,
			"items": [
				{"code": "storage-hygiene", "maxScore": 5, "weight": 1}
			]
		}
	]
}`

func newTestRegistry(t *testing.T) *Registry {
	r, err := NewRegistry(logger.NewTestLogger(t))
	require.NoError(t, err)
	return r
}

func TestRegisterJSONAppliesDefaults(t *testing.T) {
	r := newTestRegistry(t)

	tpl, err := r.RegisterJSON([]byte(validTemplateJSON))
	require.NoError(t, err)
	assert.Equal(t, float64(90), tpl.PassThreshold)
	assert.Equal(t, float64(80), tpl.Categories[0].MinimumScore)
	assert.True(t, tpl.Categories[0].ZeroTolerance)

	got, err := r.Get("GACP-FIELD", "1.0")
	require.NoError(t, err)
	assert.Equal(t, tpl, got)
}

func TestRegisterJSONRejectsSchemaViolations(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"missing template code", `{"version": "1.0", "categories": [{"code": "a", "weight": 1, "items": [{"code": "i", "maxScore": 5, "weight": 1}]}]}`},
		{"empty categories", `{"templateCode": "X", "version": "1.0", "categories": []}`},
		{"zero item weight", `{"templateCode": "X", "version": "1.0", "categories": [{"code": "a", "weight": 1, "items": [{"code": "i", "maxScore": 5, "weight": 0}]}]}`},
		{"not json", `{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RegisterJSON([]byte(tt.raw))
			assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateInvalid))
		})
	}
}

func TestRegisterJSONRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.RegisterJSON([]byte(validTemplateJSON))
	require.NoError(t, err)

	// Same code+version cannot be replaced.
	_, err = r.RegisterJSON([]byte(validTemplateJSON))
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateInvalid))

	dupItem := `{
		"templateCode": "DUP", "version": "1.0",
		"categories": [{"code": "a", "weight": 1, "items": [
			{"code": "same", "maxScore": 5, "weight": 1},
			{"code": "same", "maxScore": 5, "weight": 1}
		]}]
	}`
	_, err = r.RegisterJSON([]byte(dupItem))
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateInvalid))
}

func TestGetUnknownTemplate(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("NOPE", "9.9")
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateNotFound))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "field.json"), []byte(validTemplateJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := newTestRegistry(t)
	require.NoError(t, r.LoadDir(dir))

	_, err := r.Get("GACP-FIELD", "1.0")
	assert.NoError(t, err)
}
