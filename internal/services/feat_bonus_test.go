package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

func TestInformationBonusCountsEachFeatureOnce(t *testing.T) {
	actor := &models.Actor{
		Features: []models.Feature{
			{Name: "Know-It-All", Slug: "know-it-all", Type: "feature"},
			{Name: "Thorough Research", Type: "feat"},
			{Name: "Font of Knowledge", Slug: "font-of-knowledge", Type: "feat"},
			{Name: "Know It All", Type: "action"}, // 动作不计入
			{Name: "Power Attack", Type: "feat"},
		},
		Effects: []models.Effect{
			{Name: "Spell Effect: Pocket Library"},
			{Label: "Pocket Library (Arcana)"},
			{Name: "Frightened"},
		},
	}

	bonus := NewFeatBonusResolver().InformationBonus(actor)
	assert.Equal(t, 5, bonus.Bonus)
	assert.Len(t, bonus.Sources, 5)
	assert.Equal(t, "Know-It-All", bonus.Sources[0].Label)
	assert.Equal(t, "Pocket Library (Arcana)", bonus.Sources[4].Label)
	assert.Equal(t, "Know-It-All: +1 piece", bonus.Lines()[0])
}

func TestInformationBonusNilActor(t *testing.T) {
	assert.Equal(t, InformationBonus{}, NewFeatBonusResolver().InformationBonus(nil))
}

func TestSourceLine(t *testing.T) {
	assert.Equal(t, "Critical Success: 2 pieces", SourceLine(models.BudgetSource{Label: "Critical Success", Count: 2}))
	assert.Equal(t, "Success: 1 piece", SourceLine(models.BudgetSource{Label: "Success", Count: 1}))
}

func TestThoroughReportsBonus(t *testing.T) {
	fr := NewFeatBonusResolver()
	undead := &models.Actor{Traits: []string{"Undead"}}
	thorough := models.Feature{Name: "Thorough Reports", Type: "feat"}
	scrollmaster := models.Feature{Name: "Scrollmaster Dedication", Type: "feat"}

	plain := &models.Actor{Features: []models.Feature{thorough}}
	assert.Equal(t, 2, fr.ThoroughReportsBonus(plain, undead, "religion", []string{"undead"}))
	assert.Equal(t, 0, fr.ThoroughReportsBonus(plain, undead, "religion", []string{"dragon"}))
	assert.Equal(t, 0, fr.ThoroughReportsBonus(plain, &models.Actor{Traits: []string{"evil"}}, "religion", []string{"undead"}))

	expert := &models.Actor{
		Features: []models.Feature{thorough, scrollmaster},
		Skills:   []models.Skill{{Key: "religion", Rank: models.RankExpert}},
	}
	assert.Equal(t, 4, fr.ThoroughReportsBonus(expert, undead, "religion", []string{"undead"}))
	assert.Equal(t, 2, fr.ThoroughReportsBonus(expert, undead, "occultism", []string{"undead"}))

	none := &models.Actor{}
	assert.Equal(t, 0, fr.ThoroughReportsBonus(none, undead, "religion", []string{"undead"}))
}

func TestCheckAssurance(t *testing.T) {
	fr := NewFeatBonusResolver()
	actor := &models.Actor{
		Level:  5,
		Skills: []models.Skill{{Key: "arcana", Rank: models.RankMaster}, {Key: "nature", Rank: models.RankTrained}},
		Features: []models.Feature{
			{Name: "Assurance (Arcana)", Type: "feat"},
			{Name: "Assurance", Type: "feat", RollOptions: []string{"assurance:nature"}},
		},
	}

	a := fr.CheckAssurance(actor, "arcana")
	assert.True(t, a.Available)
	assert.Equal(t, 21, a.FixedValue)

	n := fr.CheckAssurance(actor, "nature")
	assert.True(t, n.Available)
	assert.Equal(t, 17, n.FixedValue)

	assert.False(t, fr.CheckAssurance(actor, "society").Available)
	assert.False(t, fr.CheckAssurance(nil, "arcana").Available)
}

func TestHasFeat(t *testing.T) {
	actor := &models.Actor{Features: []models.Feature{
		{Name: "Something", Slug: "diverse-recognition", Type: "feat"},
		{Name: "Thorough Reports", Type: "action"},
	}}
	assert.True(t, HasDiverseRecognition(actor))
	assert.False(t, HasThoroughReports(actor), "actions are not feats")
	assert.False(t, HasFeat(nil, featDiverseRecognition))
}
