package conformance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/poam/internal/filter"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/rules"
)

var (
	fpAdd = ir.GuestFingerprint("arith.add", "1")
	fpSub = ir.GuestFingerprint("arith.sub", "1")
	fpMul = ir.GuestFingerprint("arith.mul", "1")
	fpDiv = ir.GuestFingerprint("arith.div", "1")
)

func mustInitial(t *testing.T, current ir.Fingerprint, rs *ir.RuleInput) *Metadata {
	t.Helper()
	m, err := Initial("chain-1", current, rs, DefaultFilterParams())
	require.NoError(t, err)
	return m
}

func TestInitial(t *testing.T) {
	m := mustInitial(t, fpAdd, nil)

	assert.Equal(t, uint64(1), m.Round)
	assert.Nil(t, m.PreviousImageID)
	assert.Zero(t, m.Filter.Len())
	assert.Equal(t, "initial", m.State())
	assert.True(t, m.Evaluate().Accepted)
}

func TestInitialRejectsBadInput(t *testing.T) {
	_, err := Initial("", fpAdd, nil, DefaultFilterParams())
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = Initial("c", ir.Fingerprint{}, nil, DefaultFilterParams())
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = Initial("c", fpAdd, &ir.RuleInput{Rules: []ir.Rule{{}}}, DefaultFilterParams())
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = Initial("c", fpAdd, nil, FilterParams{Capacity: 0, FalsePositiveRate: 0.1})
	assert.ErrorIs(t, err, filter.ErrInvalidParams)
}

func TestAdvanceAndNext(t *testing.T) {
	m1 := mustInitial(t, fpAdd, nil)

	cp1, err := m1.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cp1.Round)
	assert.Equal(t, fpAdd, cp1.ImageID)
	assert.True(t, cp1.Filter.Contains(fpAdd))
	assert.Zero(t, m1.Filter.Len(), "Advance must not mutate the metadata filter")
	require.NoError(t, cp1.Validate())

	rs := &ir.RuleInput{Rules: []ir.Rule{ir.NewPrecedence(fpAdd)}}
	m2 := cp1.Next(fpMul, rs)
	assert.Equal(t, uint64(2), m2.Round)
	require.NotNil(t, m2.PreviousImageID)
	assert.Equal(t, fpAdd, *m2.PreviousImageID)
	assert.Equal(t, "chained(1)", m2.State())
	require.NoError(t, m2.Validate())
	require.NoError(t, m2.Continues(cp1))
	assert.True(t, m2.Evaluate().Accepted)

	cp2, err := m2.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cp2.Round)
	assert.True(t, cp2.Filter.Contains(fpAdd))
	assert.True(t, cp2.Filter.Contains(fpMul))
	assert.False(t, cp1.Filter.Contains(fpMul), "Next must clone the checkpoint filter")
}

func TestAdvanceRejectionLeavesMetadataUnchanged(t *testing.T) {
	cp1, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)

	rs := &ir.RuleInput{Rules: []ir.Rule{ir.NewPrecedence(fpSub)}}
	m2 := cp1.Next(fpMul, rs)
	before, err := json.Marshal(m2)
	require.NoError(t, err)

	_, err = m2.Advance()
	require.Error(t, err)
	assert.True(t, rules.IsRejection(err))

	after, err := json.Marshal(m2)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAdvanceOverflow(t *testing.T) {
	m, err := Initial("c", fpAdd, nil, FilterParams{Capacity: 1, FalsePositiveRate: 0.1})
	require.NoError(t, err)
	cp, err := m.Advance()
	require.NoError(t, err)

	_, err = cp.Next(fpSub, nil).Advance()
	assert.ErrorIs(t, err, filter.ErrOverflow)
}

func TestValidate(t *testing.T) {
	valid := func() *Metadata {
		cp, _ := mustInitial(t, fpAdd, nil).Advance()
		return cp.Next(fpMul, nil)
	}

	tests := []struct {
		name   string
		mutate func(m *Metadata)
	}{
		{"no chain id", func(m *Metadata) { m.ChainID = "" }},
		{"round zero", func(m *Metadata) { m.Round = 0 }},
		{"zero current", func(m *Metadata) { m.CurrentImageID = ir.Fingerprint{} }},
		{"missing previous", func(m *Metadata) { m.PreviousImageID = nil }},
		{"previous on round one", func(m *Metadata) { m.Round = 1 }},
		{"no filter", func(m *Metadata) { m.Filter = nil }},
		{"bad rule", func(m *Metadata) { m.Rules = &ir.RuleInput{Rules: []ir.Rule{ir.NewCardinality(2, 1, fpAdd)}} }},
	}
	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidMetadata)
		})
	}

	var nilMeta *Metadata
	assert.ErrorIs(t, nilMeta.Validate(), ErrInvalidMetadata)
}

func TestContinues(t *testing.T) {
	cp1, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(m *Metadata)
	}{
		{"other chain", func(m *Metadata) { m.ChainID = "chain-2" }},
		{"skipped round", func(m *Metadata) { m.Round = 3 }},
		{"wrong previous", func(m *Metadata) { fp := fpSub; m.PreviousImageID = &fp }},
		{"forged filter", func(m *Metadata) { m.Filter = filter.MustNew(filter.DefaultCapacity, filter.DefaultFPRate) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := cp1.Next(fpMul, nil)
			tt.mutate(m)
			assert.ErrorIs(t, m.Continues(cp1), ErrBrokenLink)
		})
	}

	assert.ErrorIs(t, cp1.Next(fpMul, nil).Continues(nil), ErrBrokenLink)
}

func TestCheckpointEncodeDecode(t *testing.T) {
	cp, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)

	s, err := cp.Encode()
	require.NoError(t, err)

	back, err := DecodeCheckpoint(s)
	require.NoError(t, err)
	assert.Equal(t, cp.ChainID, back.ChainID)
	assert.Equal(t, cp.Round, back.Round)
	assert.Equal(t, cp.ImageID, back.ImageID)
	assert.True(t, cp.Filter.Equal(back.Filter))

	_, err = DecodeCheckpoint("not json")
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = DecodeCheckpoint(`{"chain_id":"c","round":1,"image_id":[1,2,3,4,5,6,7,8]}`)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestCheckpointCommitsRules(t *testing.T) {
	mulAfterAdd := &ir.RuleInput{Rules: []ir.Rule{ir.NewScopedPrecedence(fpAdd, fpMul)}}

	withRules, err := mustInitial(t, fpMul, mulAfterAdd).Advance()
	require.Error(t, err, "mul before add is rejected")
	assert.Nil(t, withRules)

	optOut, err := mustInitial(t, fpMul, &ir.RuleInput{}).Advance()
	require.NoError(t, err)
	unconstrained, err := mustInitial(t, fpMul, nil).Advance()
	require.NoError(t, err)

	assert.Empty(t, unconstrained.RulesDigest)
	assert.NotEmpty(t, optOut.RulesDigest)

	cpAdd, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)
	checked, err := cpAdd.Next(fpMul, mulAfterAdd).Advance()
	require.NoError(t, err)
	skipped, err := cpAdd.Next(fpMul, &ir.RuleInput{}).Advance()
	require.NoError(t, err)

	a, err := checked.Encode()
	require.NoError(t, err)
	b, err := skipped.Encode()
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "journals differ by the rules they were proven under")

	back, err := DecodeCheckpoint(a)
	require.NoError(t, err)
	ok, err := back.Commits(mulAfterAdd)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = back.Commits(&ir.RuleInput{})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = back.Commits(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointValidateRulesDigest(t *testing.T) {
	cp, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)

	cp.RulesDigest = "not-hex"
	assert.ErrorIs(t, cp.Validate(), ErrInvalidMetadata)

	cp.RulesDigest = "abcd"
	assert.ErrorIs(t, cp.Validate(), ErrInvalidMetadata)
}

func TestCheckpointValidateRequiresMembership(t *testing.T) {
	cp := &Checkpoint{
		ChainID: "c",
		Round:   1,
		ImageID: fpAdd,
		Filter:  filter.MustNew(10, 0.01),
	}
	assert.ErrorIs(t, cp.Validate(), ErrInvalidMetadata)
}

func TestMetadataJSONRoundTrip(t *testing.T) {
	cp, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)
	m := cp.Next(fpMul, &ir.RuleInput{
		Rules:         []ir.Rule{ir.NewCardinality(1, 1, fpAdd)},
		OrderingRules: []ir.Rule{ir.NewScopedPrecedence(fpAdd, fpMul)},
	})

	data, err := json.Marshal(m)
	require.NoError(t, err)

	back, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, m.ChainID, back.ChainID)
	assert.Equal(t, m.Round, back.Round)
	assert.Equal(t, m.PreviousImageID, back.PreviousImageID)
	assert.Equal(t, m.CurrentImageID, back.CurrentImageID)
	assert.Equal(t, m.Rules, back.Rules)
	assert.True(t, m.Filter.Equal(back.Filter))

	_, err = DecodeMetadata([]byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestClone(t *testing.T) {
	cp, err := mustInitial(t, fpAdd, nil).Advance()
	require.NoError(t, err)
	m := cp.Next(fpMul, nil)

	c := m.Clone()
	require.NoError(t, c.Filter.Insert(fpDiv))
	*c.PreviousImageID = fpSub

	assert.False(t, m.Filter.Contains(fpDiv))
	assert.Equal(t, fpAdd, *m.PreviousImageID)
}

func TestPoamInputValidate(t *testing.T) {
	m1 := mustInitial(t, fpAdd, nil)
	first := &PoamInput{ImageID: fpAdd, Metadata: m1}
	require.NoError(t, first.Validate())
	prior, err := first.PriorCheckpoint()
	require.NoError(t, err)
	assert.Nil(t, prior)

	mismatch := &PoamInput{ImageID: fpSub, Metadata: m1}
	assert.ErrorIs(t, mismatch.Validate(), ErrInvalidMetadata)

	unexpected := &PoamInput{ImageID: fpAdd, Metadata: m1, PublicData: &ir.Journal{Result: "1"}}
	assert.ErrorIs(t, unexpected.Validate(), ErrInvalidMetadata)

	cp1, err := m1.Advance()
	require.NoError(t, err)
	meta, err := cp1.Encode()
	require.NoError(t, err)

	second := &PoamInput{ImageID: fpMul, Metadata: cp1.Next(fpMul, nil), PublicData: &ir.Journal{Result: "3", Metadata: meta}}
	require.NoError(t, second.Validate())
	prior, err = second.PriorCheckpoint()
	require.NoError(t, err)
	require.NoError(t, second.Metadata.Continues(prior))

	missing := &PoamInput{ImageID: fpMul, Metadata: cp1.Next(fpMul, nil)}
	assert.ErrorIs(t, missing.Validate(), ErrInvalidMetadata)
}
