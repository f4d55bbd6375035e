// internal/catalog/registry_test.go
package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistryMergesOverrides(t *testing.T) {
	c := New("Asia/Beirut")
	path := writeRegistry(t, `{
		"reminder_24h": {
			"body": {"en": "Custom reminder for {{name}}", "fr": "Rappel pour {{name}}"},
			"maxLength": 320
		}
	}`)

	require.NoError(t, c.LoadRegistry(path))

	tmpl, ok := c.Template("reminder_24h")
	require.True(t, ok)
	assert.Equal(t, "Custom reminder for {{name}}", tmpl.Body["en"])
	assert.Equal(t, "Rappel pour {{name}}", tmpl.Body["fr"])
	assert.NotEmpty(t, tmpl.Body["ar"], "untouched languages survive the merge")
	assert.Equal(t, 320, tmpl.MaxLength)
	assert.Equal(t, []string{"name", "date", "time"}, tmpl.RequiredParams, "params untouched when absent")
}

func TestLoadRegistryAcceptsAliases(t *testing.T) {
	c := New("Asia/Beirut")
	path := writeRegistry(t, `{"feedback": {"body": {"en": "How was it, {{name}}?"}}}`)

	require.NoError(t, c.LoadRegistry(path))
	tmpl, _ := c.Template("feedback_request")
	assert.Equal(t, "How was it, {{name}}?", tmpl.Body["en"])
}

func TestLoadRegistryRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown kind", `{"no_such_kind": {"body": {"en": "x"}}}`},
		{"missing body", `{"reminder_24h": {"maxLength": 100}}`},
		{"empty body string", `{"reminder_24h": {"body": {"en": ""}}}`},
		{"unexpected field", `{"reminder_24h": {"body": {"en": "x"}, "extra": true}}`},
		{"not an object", `["reminder_24h"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("Asia/Beirut")
			assert.Error(t, c.LoadRegistry(writeRegistry(t, tt.content)))
		})
	}
}
