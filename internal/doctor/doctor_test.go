package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCheck struct {
	name   string
	status Status
}

func (s *staticCheck) Name() string { return s.name }

func (s *staticCheck) Run(ctx context.Context, cc *CheckContext) Result {
	return Result{Name: s.name, Status: s.status}
}

func TestRunSummarizes(t *testing.T) {
	report := Run(context.Background(), &CheckContext{}, []Check{
		&staticCheck{"a", StatusOK},
		&staticCheck{"b", StatusWarning},
		&staticCheck{"c", StatusError},
		&staticCheck{"d", StatusOK},
	})

	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.OK)
	assert.Equal(t, 1, report.Summary.Warnings)
	assert.Equal(t, 1, report.Summary.Errors)
	assert.False(t, report.Healthy)
}

func TestRunHealthyWithWarnings(t *testing.T) {
	report := Run(context.Background(), &CheckContext{}, []Check{
		&staticCheck{"a", StatusOK},
		&staticCheck{"b", StatusWarning},
	})
	assert.True(t, report.Healthy, "warnings alone do not fail doctor")
}

func TestConfigCheckMissingFile(t *testing.T) {
	result := (&ConfigCheck{}).Run(context.Background(), &CheckContext{Root: t.TempDir()})
	assert.Equal(t, StatusWarning, result.Status)
	assert.Contains(t, result.FixHint, "init")
}

func TestConfigCheckMalformedFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".swarm")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("max_agents = {"), 0o644))

	result := (&ConfigCheck{}).Run(context.Background(), &CheckContext{Root: root})
	assert.Equal(t, StatusError, result.Status)
}

func TestBinaryCheckMissing(t *testing.T) {
	result := (&BinaryCheck{Binary: "definitely-not-a-real-binary-xyz", Purpose: "test"}).
		Run(context.Background(), &CheckContext{})
	assert.Equal(t, StatusWarning, result.Status)
}
