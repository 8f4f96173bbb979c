package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenarioResolvesPolicies(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/policy-fallback.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "policies"), s.Policies)
	require.Len(t, s.Steps, 4)
	assert.True(t, s.Steps[3].Prove.NewChain)
	assert.NotNil(t, s.Steps[3].Prove.Rules)
	assert.Empty(t, s.Steps[3].Prove.Rules)
	assert.Nil(t, s.Steps[0].Prove.Rules)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenarioFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\ndescription: d\nsteps:\n  - compose: {}\n"), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, KindCompose, s.Steps[0].kind())
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: s\ndescription: d\nstep: []\n", "failed to parse YAML"},
		{"no name", "description: d\nsteps:\n  - compose: {}\n", "name is required"},
		{"no description", "name: s\nsteps:\n  - compose: {}\n", "description is required"},
		{"no steps", "name: s\ndescription: d\n", "steps list is required"},
		{"empty step", "name: s\ndescription: d\nsteps:\n  - expect: {outcome: ok}\n", "exactly one of"},
		{"two kinds", "name: s\ndescription: d\nsteps:\n  - compose: {}\n    verify: {}\n", "exactly one of"},
		{"no operation", "name: s\ndescription: d\nsteps:\n  - prove: {a: 1}\n", "operation is required"},
		{"bad target", "name: s\ndescription: d\nsteps:\n  - verify: {target: first}\n", `unknown target "first"`},
		{"expect without outcome", "name: s\ndescription: d\nsteps:\n  - compose: {}\n    expect: {claims: 1}\n", "outcome is required"},
		{"assertion type", "name: s\ndescription: d\nsteps:\n  - compose: {}\nassertions:\n  - type: trace_contains\n", "unknown assertion type"},
		{"order without guests", "name: s\ndescription: d\nsteps:\n  - compose: {}\nassertions:\n  - type: trace_order\n", "guests list is required"},
		{"state without table", "name: s\ndescription: d\nsteps:\n  - compose: {}\nassertions:\n  - type: final_state\n    expect: {result: x}\n", "table is required"},
		{"state without expect", "name: s\ndescription: d\nsteps:\n  - compose: {}\nassertions:\n  - type: final_state\n    table: rounds\n", "expect is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
