package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosGolden(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunReportsFailedExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong-expectations
description: every expectation is wrong
steps:
  - prove: {operation: add, a: 2, b: 3}
    expect: {outcome: ok, result: "6", round: 2}
  - prove: {operation: sub, a: 1, b: 1}
    expect: {outcome: PRECEDENCE_VIOLATION, chain_length: 1}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], `expected result "6", got "5"`)
	assert.Contains(t, result.Errors[1], "expected round 2, got 1")
	assert.Contains(t, result.Errors[2], `expected outcome "PRECEDENCE_VIOLATION", got "ok"`)
	assert.Contains(t, result.Errors[3], "expected chain length 1, got 2")
}

func TestRunErrorOutcomes(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: error-outcomes
description: errors surface as outcomes, not execution failures
require_rules: true
steps:
  - prove: {operation: add, a: 1, b: 1}
    expect: {outcome: MALFORMED_RULES}
  - prove: {operation: pow, a: 1, b: 1}
    expect: {outcome: UNKNOWN_FINGERPRINT}
  - prove: {operation: div, a: 1, b: 0, rules: {}}
    expect: {outcome: ENGINE_FAILURE}
  - compose: {}
    expect: {outcome: EMPTY_INPUT}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunExecutionErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "verify before prove",
			yaml: `
name: x
description: x
steps:
  - verify: {}
`,
			want: "no proof yet",
		},
		{
			name: "tamper without composite",
			yaml: `
name: x
description: x
steps:
  - prove: {operation: add, a: 1, b: 1}
  - tamper: {target: composite}
`,
			want: "no composite proof yet",
		},
		{
			name: "bad rules",
			yaml: `
name: x
description: x
steps:
  - prove:
      operation: add
      a: 1
      b: 1
      rules:
        rules:
          - precedence: {preceding: arith.pow}
`,
			want: "rules",
		},
		{
			name: "missing policy dir",
			yaml: `
name: x
description: x
policies: /nonexistent/policies
steps:
  - prove: {operation: add, a: 1, b: 1}
`,
			want: "failed to load policies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := ParseScenario([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAssertionsFail(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: failing-assertions
description: each assertion is false
steps:
  - prove: {operation: add, a: 2, b: 3}
assertions:
  - type: trace_count
    kind: prove
    count: 2
  - type: trace_order
    guests: [arith.mul]
  - type: final_state
    table: rounds
    where: {chain_id: chain-1}
    expect: {result: "6"}
  - type: final_state
    table: rounds
    where: {chain_id: nope}
    expect: {result: "5"}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "trace_count")
	assert.Contains(t, result.Errors[1], "missing arith.mul")
	assert.Contains(t, result.Errors[2], `field "result"`)
	assert.Contains(t, result.Errors[3], "row not found")
}

func TestFinalStateRejectsBadIdentifiers(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: injection
description: identifiers are whitelisted
steps:
  - prove: {operation: add, a: 2, b: 3}
assertions:
  - type: final_state
    table: "rounds; DROP TABLE rounds"
    expect: {result: "5"}
  - type: final_state
    table: rounds
    where: {"round OR 1=1": 1}
    expect: {result: "5"}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "invalid table name")
	assert.Contains(t, result.Errors[1], "invalid column name")
}

func TestMarshalTraceOmitsEmptyFields(t *testing.T) {
	r := NewResult()
	r.addTrace(TraceEvent{Step: 1, Kind: KindTamper, Outcome: OutcomeOK})

	data, err := MarshalTrace("s", r)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"s","trace":[{"kind":"tamper","outcome":"ok","step":1}]}`, string(data))
}

func TestResultAddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
