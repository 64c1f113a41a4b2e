package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorSkillLookup(t *testing.T) {
	a := &Actor{Skills: []Skill{
		{Key: "Arcana", Rank: RankExpert, Modifier: 9},
		{Key: "dragon-lore", Modifier: 4},
	}}

	s, ok := a.Skill("arcana")
	assert.True(t, ok)
	assert.Equal(t, 9, s.Modifier)
	assert.Equal(t, RankExpert, a.SkillRank("ARCANA"))
	assert.Equal(t, 0, a.SkillRank("nature"))

	assert.Equal(t, "Arcana", a.SkillLabel("arcana"))
	assert.Equal(t, "Lore", a.SkillLabel("dragon-lore"))
	assert.Equal(t, "Nature", a.SkillLabel("nature"))
}

func TestNilActorAccessors(t *testing.T) {
	var a *Actor

	_, ok := a.Skill("arcana")
	assert.False(t, ok)
	assert.Nil(t, a.LowerTraits())
	assert.False(t, a.HasTrait("dragon"))
	assert.Equal(t, "Unknown", a.DisplayName())
	assert.Equal(t, noBackground, a.Background())
}

func TestTraitsAreLoweredInOrder(t *testing.T) {
	a := &Actor{Traits: []string{"Undead", " ", "Mindless ", "SKELETON"}}
	assert.Equal(t, []string{"undead", "mindless", "skeleton"}, a.LowerTraits())
	assert.True(t, a.HasTrait("UNDEAD"))
}

func TestBackgroundPrecedence(t *testing.T) {
	assert.Equal(t, "notes", (&Actor{PublicNotes: "notes", Biography: "bio"}).Background())
	assert.Equal(t, "bio", (&Actor{Biography: "bio"}).Background())
	assert.Equal(t, noBackground, (&Actor{}).Background())
}

func TestFeatureKinds(t *testing.T) {
	assert.True(t, Feature{Type: ""}.IsFeat())
	assert.True(t, Feature{Type: "Feat"}.IsFeat())
	assert.True(t, Feature{Type: "feature"}.IsFeat())
	assert.False(t, Feature{Type: "action"}.IsFeat())

	f := Feature{Traits: []string{"Free-Action", "magical"}}
	assert.True(t, f.HasTrait("free"))
	assert.False(t, f.HasTrait("reaction"))
}

func TestFactSetMerge(t *testing.T) {
	s := FactSet{FactWeaknesses}
	merged := s.Merge(FactAttacks, FactWeaknesses, "", FactAttacks)

	assert.Equal(t, FactSet{FactWeaknesses, FactAttacks}, merged)
	assert.Equal(t, FactSet{FactWeaknesses}, s, "merge must not mutate the receiver")
	assert.True(t, merged.Has(FactAttacks))
	assert.False(t, merged.Has(FactSkills))
}

func TestFactLabels(t *testing.T) {
	for _, id := range AllFacts {
		assert.True(t, id.Valid(), id)
		assert.NotEqual(t, string(id), id.Label(), id)
	}
	assert.Equal(t, "Special Abilities", FactSpecialAbilities.Label())
	assert.False(t, FactID("nonsense").Valid())
	assert.Equal(t, "nonsense", FactID("nonsense").Label())
	assert.Len(t, DefaultRevealableFacts, 8)
}

func TestDegreeAndMargin(t *testing.T) {
	assert.True(t, Success.IsSuccess())
	assert.True(t, CriticalSuccess.IsSuccess())
	assert.False(t, Failure.IsSuccess())
	assert.False(t, CriticalFailure.IsSuccess())

	assert.Equal(t, 8, CheckResult{Total: 28, DC: 20}.Margin())
}
