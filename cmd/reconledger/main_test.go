package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineCmd_Default(t *testing.T) {
	t.Setenv("PIPELINE_FILE", "")
	var out bytes.Buffer
	cmd := pipelineCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1. recon (parallel, required, timeout 2m0s)")
	assert.Contains(t, out.String(), "   - port-scan")
	assert.Contains(t, out.String(), "3. synthesis (sequential, optional, timeout 5m0s)")
}

func TestPipelineCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`stages:
  - name: probe
    agents: [http-probe]
    timeout: 30s
`), 0o644))

	var out bytes.Buffer
	cmd := pipelineCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "1. probe (sequential, required, timeout 30s)\n   - http-probe\n", out.String())
}

func TestPipelineCmd_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages:\n  - name: empty\n"), 0o644))

	cmd := pipelineCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-f", path})
	require.ErrorIs(t, cmd.Execute(), domain.ErrInvalidPipeline)
}

func TestSortByUncertainty(t *testing.T) {
	claims := []*domain.Claim{
		{ID: "settled", Opinion: domain.Opinion{B: 0.8, D: 0.1, U: 0.1, A: 0.5}},
		{ID: "leaning-true", Opinion: domain.Opinion{B: 0.3, U: 0.7, A: 0.5}},
		{ID: "leaning-false", Opinion: domain.Opinion{D: 0.3, U: 0.7, A: 0.5}},
		{ID: "vacuous", Opinion: domain.Opinion{U: 1, A: 0.5}},
	}
	sortByUncertainty(claims)

	ids := make([]string, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"vacuous", "leaning-false", "leaning-true", "settled"}, ids)
}

func TestNewLogger(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(lvl)
		require.NoError(t, err, lvl)
		require.NotNil(t, logger)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}
