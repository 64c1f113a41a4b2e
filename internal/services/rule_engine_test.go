package services

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// fixedRoller 每次都投出同一个值
type fixedRoller int

func (r fixedRoller) RollD20() int { return int(r) }

func TestDegreeOf(t *testing.T) {
	tests := []struct {
		total, dc int
		want      models.Degree
	}{
		{30, 20, models.CriticalSuccess},
		{29, 20, models.Success},
		{20, 20, models.Success},
		{19, 20, models.Failure},
		{11, 20, models.Failure},
		{10, 20, models.CriticalFailure},
		{-5, 20, models.CriticalFailure},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DegreeOf(tt.total, tt.dc), "total %d vs dc %d", tt.total, tt.dc)
	}
}

func TestComputeDC(t *testing.T) {
	target := &models.Actor{Level: 10}
	auto := DCConfig{AutoCalculate: true}

	assert.Equal(t, 20, BaseDC(target, auto))
	assert.Equal(t, 15, BaseDC(target, DCConfig{}))
	assert.Equal(t, 15, BaseDC(nil, auto))

	assert.Equal(t, 20, ComputeDC(target, 0, auto))
	assert.Equal(t, 24, ComputeDC(target, 2, auto))
	assert.Equal(t, 21, ComputeDC(target, 3, DCConfig{}))
	assert.Equal(t, 20, ComputeDC(target, -4, auto), "negative attempts count as zero")
}

func TestResolveRolled(t *testing.T) {
	skill := models.KnowledgeSkill{Key: "arcana", Name: "Arcana", Modifier: 8}
	result := NewCheckResolver(fixedRoller(20)).Resolve(skill, 20, 0, nil)

	assert.Equal(t, 20, result.Die)
	assert.Equal(t, 28, result.Total)
	assert.Equal(t, 8, result.Margin())
	assert.Equal(t, models.Success, result.Degree)
	assert.False(t, result.UsedAssurance)
	assert.Equal(t, skill, result.Skill)
}

func TestResolveSituationalBonus(t *testing.T) {
	skill := models.KnowledgeSkill{Key: "nature", Modifier: 5}
	result := NewCheckResolver(fixedRoller(13)).Resolve(skill, 20, 2, nil)

	assert.Equal(t, 20, result.Total)
	assert.Equal(t, 2, result.Bonus)
	assert.Equal(t, models.Success, result.Degree)
}

func TestResolveAssuranceIgnoresDieAndBonus(t *testing.T) {
	skill := models.KnowledgeSkill{Key: "religion", Modifier: 15}
	fixed := 18
	result := NewCheckResolver(fixedRoller(20)).Resolve(skill, 20, 4, &fixed)

	assert.True(t, result.UsedAssurance)
	assert.Equal(t, 0, result.Die)
	assert.Equal(t, 0, result.Bonus)
	assert.Equal(t, 18, result.Total)
	assert.Equal(t, models.Failure, result.Degree)
}

func TestRollDiceInRange(t *testing.T) {
	re := NewRuleEngineWithSource(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		v := re.RollD20()
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 20)
	}
}
