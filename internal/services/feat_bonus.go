package services

import (
	"fmt"
	"strings"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// bonusInfoFeats 每项额外提供一条信息的专长
var bonusInfoFeats = []string{
	"know-it-all",
	"know it all",
	"thorough research",
	"font of knowledge",
	"fountain of secrets",
}

const pocketLibrary = "pocket library"

// 专长名称与slug
const (
	featThoroughReports    = "thorough reports"
	featScrollmaster       = "scrollmaster dedication"
	featDiverseRecognition = "diverse recognition"
	thoroughReportsBonus   = 2
	scrollmasterBonus      = 4
)

// InformationBonus 专长与效果提供的额外信息数
type InformationBonus struct {
	Bonus   int
	Sources []models.BudgetSource
}

// Lines 人类可读的来源说明
func (b InformationBonus) Lines() []string {
	lines := make([]string, 0, len(b.Sources))
	for _, s := range b.Sources {
		lines = append(lines, SourceLine(s))
	}
	return lines
}

// SourceLine 预算来源的显示文本
func SourceLine(s models.BudgetSource) string {
	unit := "pieces"
	if s.Count == 1 {
		unit = "piece"
	}
	if s.Bonus {
		return fmt.Sprintf("%s: +%d %s", s.Label, s.Count, unit)
	}
	return fmt.Sprintf("%s: %d %s", s.Label, s.Count, unit)
}

// Assurance 保证专长
type Assurance struct {
	Available  bool
	FixedValue int
}

type FeatBonusResolver struct{}

func NewFeatBonusResolver() *FeatBonusResolver {
	return &FeatBonusResolver{}
}

// InformationBonus 扫描专长与效果，每个特性至多计一次
func (fr *FeatBonusResolver) InformationBonus(actor *models.Actor) InformationBonus {
	var out InformationBonus
	if actor == nil {
		return out
	}

	for _, f := range actor.Features {
		if !f.IsFeat() {
			continue
		}
		name := strings.ToLower(f.Name)
		slug := strings.ToLower(f.Slug)
		for _, pattern := range bonusInfoFeats {
			if strings.Contains(name, pattern) || strings.Contains(slug, pattern) {
				out.Bonus++
				out.Sources = append(out.Sources, models.BudgetSource{Label: f.Name, Count: 1, Bonus: true})
				break
			}
		}
	}

	for _, e := range actor.Effects {
		if strings.Contains(strings.ToLower(e.Name), pocketLibrary) ||
			strings.Contains(strings.ToLower(e.Label), pocketLibrary) {
			label := e.Name
			if label == "" {
				label = e.Label
			}
			out.Bonus++
			out.Sources = append(out.Sources, models.BudgetSource{Label: label, Count: 1, Bonus: true})
		}
	}

	return out
}

// ThoroughReportsBonus 已追踪的生物类型获得+2；具有卷轴大师入门且技能达到专家时+4
func (fr *FeatBonusResolver) ThoroughReportsBonus(actor, target *models.Actor, skillKey string, trackedTypes []string) int {
	if !HasFeat(actor, featThoroughReports) {
		return 0
	}
	creatureType := InferCreatureType(target)
	if creatureType == "" || !containsFold(trackedTypes, creatureType) {
		return 0
	}
	if HasFeat(actor, featScrollmaster) && actor.SkillRank(skillKey) >= models.RankExpert {
		return scrollmasterBonus
	}
	return thoroughReportsBonus
}

// CheckAssurance 保证：10 + 2×熟练等级 + 等级
func (fr *FeatBonusResolver) CheckAssurance(actor *models.Actor, skillKey string) Assurance {
	if actor == nil {
		return Assurance{}
	}
	slug := "assurance-" + strings.ToLower(skillKey)
	name := fmt.Sprintf("assurance (%s)", strings.ToLower(actor.SkillLabel(skillKey)))
	option := "assurance:" + strings.ToLower(skillKey)

	for _, f := range actor.Features {
		if !f.IsFeat() {
			continue
		}
		if strings.EqualFold(f.Slug, slug) || strings.EqualFold(f.Name, name) || containsFold(f.RollOptions, option) {
			return Assurance{
				Available:  true,
				FixedValue: 10 + 2*actor.SkillRank(skillKey) + actor.Level,
			}
		}
	}
	return Assurance{}
}

// HasFeat 名称包含或slug等于给定专长
func HasFeat(actor *models.Actor, name string) bool {
	if actor == nil {
		return false
	}
	slug := strings.ReplaceAll(name, " ", "-")
	for _, f := range actor.Features {
		if !f.IsFeat() {
			continue
		}
		if strings.Contains(strings.ToLower(f.Name), name) || strings.EqualFold(f.Slug, slug) {
			return true
		}
	}
	return false
}

// HasDiverseRecognition 多样识别
func HasDiverseRecognition(actor *models.Actor) bool {
	return HasFeat(actor, featDiverseRecognition)
}

// HasThoroughReports 详尽报告
func HasThoroughReports(actor *models.Actor) bool {
	return HasFeat(actor, featThoroughReports)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
