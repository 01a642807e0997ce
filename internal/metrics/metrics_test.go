package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Item("process", OutcomeDone)
	m.Attempt("openai", nil)
	m.Retry("openai")
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestCountersAndTextfile(t *testing.T) {
	m := New()
	m.Item("generate", OutcomeDone)
	m.Item("generate", OutcomeDone)
	m.Item("generate", OutcomeFailed)
	m.Attempt("openai", errors.New("boom"))
	m.Retry("openai")

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)

	path := filepath.Join(t.TempDir(), "chartstudy.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `chartstudy_items_total{outcome="done",stage="generate"} 2`)
	assert.Contains(t, string(data), `chartstudy_items_total{outcome="failed",stage="generate"} 1`)
	assert.Contains(t, string(data), `chartstudy_api_attempts_total{result="error",target="openai"} 1`)
	assert.Contains(t, string(data), `chartstudy_retries_total{target="openai"} 1`)
	assert.NoError(t, m.WriteTextfile(""))
}
