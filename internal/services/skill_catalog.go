package services

import (
	"sort"
	"strings"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// coreKnowledgeSkills 核心知识技能
var coreKnowledgeSkills = []string{"arcana", "crafting", "occultism", "nature", "religion", "society"}

// universalLores 对任何生物都适用的学识
var universalLores = []string{"bardic-lore", "esoteric-lore", "gossip-lore", "loremaster-lore"}

// bestiaryScholarTriggers 只有这四项之一适用时才会加入兽典学者的技能（社会不算）
var bestiaryScholarTriggers = []string{"nature", "religion", "occultism", "arcana"}

// BestiaryScholarChoices 兽典学者可选技能
var BestiaryScholarChoices = []string{"", "arcana", "nature", "occultism", "religion"}

// traitSkills 生物特征 -> 适用技能
var traitSkills = map[string][]string{
	"aberration": {"occultism"},
	"animal":     {"nature"},
	"astral":     {"occultism"},
	"beast":      {"arcana", "nature"},
	"celestial":  {"religion"},
	"construct":  {"arcana", "crafting"},
	"dragon":     {"arcana"},
	"elemental":  {"arcana", "nature"},
	"ethereal":   {"occultism"},
	"fey":        {"nature"},
	"fiend":      {"religion"},
	"fungus":     {"nature"},
	"giant":      {"society"},
	"humanoid":   {"society"},
	"monitor":    {"religion"},
	"ooze":       {"occultism"},
	"plant":      {"nature"},
	"undead":     {"religion"},
}

// creatureTypes 生物类型特征（规范顺序）
var creatureTypes = []string{
	"aberration", "animal", "astral", "beast", "celestial", "construct",
	"dragon", "elemental", "ethereal", "fey", "fiend", "fungus",
	"giant", "humanoid", "monitor", "ooze", "plant", "undead",
}

// CreatureTypes 返回全部可追踪的生物类型
func CreatureTypes() []string {
	return append([]string{}, creatureTypes...)
}

// IsCreatureType 是否为规范的生物类型
func IsCreatureType(t string) bool {
	t = strings.ToLower(t)
	for _, c := range creatureTypes {
		if c == t {
			return true
		}
	}
	return false
}

// SkillCatalogConfig 每个用户的技能相关设置
type SkillCatalogConfig struct {
	BonusSkill string // 兽典学者，空为无
}

type SkillCatalog struct{}

func NewSkillCatalog() *SkillCatalog {
	return &SkillCatalog{}
}

// UsableSkills 行动者可用的知识技能，按调整值降序（稳定排序）
func (sc *SkillCatalog) UsableSkills(actor *models.Actor) []models.KnowledgeSkill {
	if actor == nil {
		return nil
	}

	skills := make([]models.KnowledgeSkill, 0, len(coreKnowledgeSkills))
	for _, key := range coreKnowledgeSkills {
		if s, ok := actor.Skill(key); ok {
			skills = append(skills, models.KnowledgeSkill{
				Key:      key,
				Name:     s.DisplayLabel(),
				Modifier: s.Modifier,
			})
		}
	}

	for _, s := range actor.Skills {
		if !strings.Contains(strings.ToLower(s.Key), "lore") {
			continue
		}
		skills = append(skills, models.KnowledgeSkill{
			Key:      s.Key,
			Name:     s.DisplayLabel(),
			Modifier: s.Modifier,
			IsLore:   true,
		})
	}

	sort.SliceStable(skills, func(i, j int) bool {
		return skills[i].Modifier > skills[j].Modifier
	})
	return skills
}

// AppropriateSkills 针对目标适用的技能集合（仅作提示，不限制选择）
func (sc *SkillCatalog) AppropriateSkills(target *models.Actor, cfg SkillCatalogConfig) []string {
	set := newOrderedSet()
	set.add(universalLores...)

	for _, trait := range target.LowerTraits() {
		set.add(traitSkills[trait]...)
	}

	if cfg.BonusSkill != "" && set.hasAny(bestiaryScholarTriggers...) {
		set.add(strings.ToLower(cfg.BonusSkill))
	}

	return set.items
}

// InferCreatureType 目标特征中第一个匹配的生物类型（按目标自身的特征顺序）
func InferCreatureType(target *models.Actor) string {
	for _, trait := range target.LowerTraits() {
		if IsCreatureType(trait) {
			return trait
		}
	}
	return ""
}

type orderedSet struct {
	items []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(keys ...string) {
	for _, k := range keys {
		if k == "" || s.seen[k] {
			continue
		}
		s.seen[k] = true
		s.items = append(s.items, k)
	}
}

func (s *orderedSet) hasAny(keys ...string) bool {
	for _, k := range keys {
		if s.seen[k] {
			return true
		}
	}
	return false
}
