package ir

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fpAdd = GuestFingerprint("arith.add", "1")
	fpMul = GuestFingerprint("arith.mul", "1")
)

func TestRuleKind(t *testing.T) {
	assert.Equal(t, RuleKindPrecedence, NewPrecedence(fpAdd).Kind())
	assert.Equal(t, RuleKindCardinality, NewCardinality(0, 1, fpAdd).Kind())
	assert.Equal(t, RuleKind(""), Rule{}.Kind())

	both := Rule{Precedence: &PrecedenceRule{Preceding: fpAdd}, Cardinality: &CardinalityRule{}}
	assert.Equal(t, RuleKind(""), both.Kind())
}

func TestRuleInputValidate(t *testing.T) {
	tests := []struct {
		name  string
		input *RuleInput
		code  string
	}{
		{"nil input", nil, ""},
		{"empty input", &RuleInput{}, ""},
		{"valid", &RuleInput{
			Rules:         []Rule{NewPrecedence(fpAdd), NewCardinality(0, 2, fpAdd, fpMul)},
			OrderingRules: []Rule{NewScopedPrecedence(fpAdd, fpMul)},
		}, ""},
		{"no variant", &RuleInput{Rules: []Rule{{}}}, ErrRuleVariant},
		{"zero preceding", &RuleInput{Rules: []Rule{NewPrecedence(Fingerprint{})}}, ErrRuleZeroImage},
		{"zero current", &RuleInput{Rules: []Rule{NewScopedPrecedence(fpAdd, Fingerprint{})}}, ErrRuleZeroImage},
		{"no candidates", &RuleInput{Rules: []Rule{NewCardinality(0, 1)}}, ErrRuleNoCandidates},
		{"zero candidate", &RuleInput{Rules: []Rule{NewCardinality(0, 1, fpAdd, Fingerprint{})}}, ErrRuleZeroImage},
		{"min above max", &RuleInput{Rules: []Rule{NewCardinality(3, 1, fpAdd)}}, ErrRuleBounds},
		{"cardinality in ordering", &RuleInput{OrderingRules: []Rule{NewCardinality(0, 1, fpAdd)}}, ErrRuleOrderingKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			var ve ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.code, ve.Code)
		})
	}
}

func TestValidationErrorField(t *testing.T) {
	in := &RuleInput{Rules: []Rule{NewPrecedence(fpAdd), NewCardinality(0, 1, fpAdd, Fingerprint{})}}
	err := in.Validate()

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "rules[1].cardinality.candidates[1]", ve.Field)
	assert.Contains(t, err.Error(), ErrRuleZeroImage)
}

func TestRuleInputAll(t *testing.T) {
	var nilInput *RuleInput
	assert.Nil(t, nilInput.All())
	assert.Zero(t, nilInput.Len())

	in := &RuleInput{
		Rules:         []Rule{NewCardinality(0, 1, fpAdd)},
		OrderingRules: []Rule{NewPrecedence(fpMul)},
	}
	all := in.All()
	require.Len(t, all, 2)
	assert.Equal(t, RuleKindCardinality, all[0].Kind())
	assert.Equal(t, RuleKindPrecedence, all[1].Kind())
	assert.Equal(t, 2, in.Len())
}

func TestRuleInputJSON(t *testing.T) {
	in := &RuleInput{
		Rules: []Rule{
			NewScopedPrecedence(fpAdd, fpMul),
			NewCardinality(1, 1, fpAdd),
		},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var back RuleInput
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *in, back)
}

func TestRuleJSONShape(t *testing.T) {
	r := NewPrecedence(Fingerprint{1, 2, 3, 4, 5, 6, 7, 8})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"precedence":{"preceding":[1,2,3,4,5,6,7,8]}}`, string(data))
}
