package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()
	require.NoError(t, policies.Validate())

	assert.Equal(t, types.NoExpiry, policies[types.CategoryTranslation].TTL)
	assert.Equal(t, PersistNever, policies[types.CategoryImage].Persist)
	assert.Equal(t, 6*time.Hour, policies[types.CategoryOCR].PersistWindow)
	assert.Greater(t, policies[types.CategoryTranslation].Priority, policies[types.CategoryImage].Priority)
}

func TestBuildPoliciesOverrides(t *testing.T) {
	ttl := 2 * time.Hour
	negative := -time.Second
	priority := 5
	prefix := "tr"
	persist := "never"

	policies, err := BuildPolicies(&types.StrategyConfig{Policies: map[string]*types.PolicyConfig{
		"translation": {KeyPrefix: &prefix, Priority: &priority},
		"ocr":         {TTL: &ttl, Persist: &persist},
		"other":       {TTL: &negative},
		"config":      nil,
	}})
	require.NoError(t, err)

	assert.Equal(t, "tr", policies[types.CategoryTranslation].KeyPrefix)
	assert.Equal(t, 5, policies[types.CategoryTranslation].Priority)
	assert.Equal(t, types.NoExpiry, policies[types.CategoryTranslation].TTL)
	assert.Equal(t, ttl, policies[types.CategoryOCR].TTL)
	assert.Equal(t, PersistNever, policies[types.CategoryOCR].Persist)
	assert.Equal(t, types.NoExpiry, policies[types.CategoryOther].TTL)
	assert.Equal(t, DefaultPolicies()[types.CategoryConfig], policies[types.CategoryConfig])
}

func TestBuildPoliciesRejectsInvalid(t *testing.T) {
	_, err := BuildPolicies(&types.StrategyConfig{Policies: map[string]*types.PolicyConfig{"video": {}}})
	assert.ErrorIs(t, err, types.ErrCacheCategoryUnknown)

	dup := "image"
	_, err = BuildPolicies(&types.StrategyConfig{Policies: map[string]*types.PolicyConfig{"ocr": {KeyPrefix: &dup}}})
	assert.ErrorIs(t, err, types.ErrCachePolicyInvalid)

	empty := ""
	_, err = BuildPolicies(&types.StrategyConfig{Policies: map[string]*types.PolicyConfig{"ocr": {KeyPrefix: &empty}}})
	assert.ErrorIs(t, err, types.ErrCachePolicyInvalid)

	nested := "image:ocr"
	_, err = BuildPolicies(&types.StrategyConfig{Policies: map[string]*types.PolicyConfig{"ocr": {KeyPrefix: &nested}}})
	assert.ErrorIs(t, err, types.ErrCachePolicyInvalid)

	recent := "recent"
	_, err = BuildPolicies(&types.StrategyConfig{Policies: map[string]*types.PolicyConfig{"image": {Persist: &recent}}})
	assert.ErrorIs(t, err, types.ErrCachePolicyInvalid)
}
