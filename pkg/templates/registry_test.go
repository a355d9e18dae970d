package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/pkg/errors"
)

func TestRegistryLoadAndRender(t *testing.T) {
	base := t.TempDir()
	agentDir := filepath.Join(base, "agents")
	require.NoError(t, os.MkdirAll(agentDir, 0o755))

	tplPath := filepath.Join(agentDir, "data_governance.tmpl")
	require.NoError(t, os.WriteFile(tplPath, []byte("Terms: {{join .Terms \", \"}}"), 0o644))

	reg, err := NewRegistry(base)
	require.NoError(t, err)

	tmpl, err := reg.GetTemplate("agents/data_governance")
	require.NoError(t, err)

	rendered, err := tmpl.Render(map[string]any{"Terms": []string{"sales", "churn"}})
	require.NoError(t, err)
	assert.Equal(t, "Terms: sales, churn", rendered)

	// parsed content is kept even if the file changes on disk
	require.NoError(t, os.WriteFile(tplPath, []byte("changed"), 0o644))
	rendered, err = tmpl.Render(map[string]any{"Terms": []string{"margin"}})
	require.NoError(t, err)
	assert.Equal(t, "Terms: margin", rendered)
}

func TestRegistryLazyLoad(t *testing.T) {
	base := t.TempDir()
	reg, err := NewRegistry(base)
	require.NoError(t, err)
	assert.Empty(t, reg.List())

	path := filepath.Join(base, "reports", "summary.tmpl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("Run {{.RunID}}"), 0o644))

	rendered, err := reg.Render("reports/summary", map[string]string{"RunID": "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "Run r-1", rendered)
	assert.Equal(t, []string{"reports/summary"}, reg.List())
}

func TestRegistryMissing(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	require.NoError(t, err)

	_, err = reg.Render("agents/unknown", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRegistryMissingKeyFails(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "p.tmpl"), []byte("{{.Period}}"), 0o644))

	reg, err := NewRegistry(base)
	require.NoError(t, err)

	_, err = reg.Render("p", map[string]any{})
	assert.Error(t, err)
}

func TestEmbeddedAgentTemplates(t *testing.T) {
	reg := Get()
	for _, id := range []string{
		"agents/system",
		"agents/situation_awareness",
		"agents/deep_analysis",
		"agents/solution_finder",
	} {
		_, err := reg.GetTemplate(id)
		assert.NoError(t, err, id)
	}

	out, err := reg.Render("agents/system", map[string]any{"Role": "solution finder", "MaxSentences": 4})
	require.NoError(t, err)
	assert.Contains(t, out, "You are the solution finder")
}
