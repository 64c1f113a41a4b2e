package services

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

const (
	backgroundLimit = 100
	maxListed       = 5
)

type InformationEngine struct {
	feats       *FeatBonusResolver
	falseOnCrit bool
	mu          sync.Mutex
	rng         *rand.Rand // 虚假信息专用，与检定骰子互不影响
}

func NewInformationEngine(feats *FeatBonusResolver, falseInfoOnCritFail bool) *InformationEngine {
	return &InformationEngine{
		feats:       feats,
		falseOnCrit: falseInfoOnCritFail,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Budget 成功度 + 专长加值 -> 可揭示的信息数
func (ie *InformationEngine) Budget(degree models.Degree, actor *models.Actor) models.InformationBudget {
	var budget models.InformationBudget

	switch degree {
	case models.CriticalSuccess:
		budget.Total = 2
		budget.Sources = append(budget.Sources, models.BudgetSource{Label: "Critical Success", Count: 2})
	case models.Success:
		budget.Total = 1
		budget.Sources = append(budget.Sources, models.BudgetSource{Label: "Success", Count: 1})
	case models.CriticalFailure:
		if ie.falseOnCrit {
			// 表现得像学到了一条，内容是假的
			budget.Total = 1
			budget.FalseInfo = true
			budget.Sources = append(budget.Sources, models.BudgetSource{Label: "Critical Failure", Count: 1})
		}
		return budget
	default:
		return budget
	}

	bonus := ie.feats.InformationBonus(actor)
	budget.Total += bonus.Bonus
	budget.Sources = append(budget.Sources, bonus.Sources...)
	return budget
}

// SelectionOptions 将菜单拆分为可选项与已知项；已知项不占用预算
func SelectionOptions(menu []models.FactID, known models.FactSet) (selectable, alreadyKnown []models.FactID) {
	for _, id := range menu {
		if known.Has(id) {
			alreadyKnown = append(alreadyKnown, id)
		} else {
			selectable = append(selectable, id)
		}
	}
	return selectable, alreadyKnown
}

// ValidateSelection 选择必须来自可选项、无重复且不超过预算
func ValidateSelection(selected, selectable []models.FactID, budget int) (models.FactSet, error) {
	allowed := models.FactSet(selectable)
	var out models.FactSet
	for _, id := range selected {
		if !allowed.Has(id) {
			return nil, newError(CodeInvalidSelection, fmt.Sprintf("%s cannot be selected", id))
		}
		out = out.Merge(id)
	}
	if len(out) > budget {
		return nil, newError(CodeInvalidSelection, fmt.Sprintf("at most %d pieces of information may be selected", budget))
	}
	return out, nil
}

// ExtractFact 从目标数据块投影出一条信息，缺失数据返回后备文本
func (ie *InformationEngine) ExtractFact(target *models.Actor, id models.FactID) models.Fact {
	return models.Fact{ID: id, Label: id.Label(), Value: factValue(target, id)}
}

func factValue(target *models.Actor, id models.FactID) string {
	if target == nil {
		return "Unknown"
	}

	switch id {
	case models.FactHighestSave:
		return extremeSave(target.Saves, func(a, b int) bool { return a > b })
	case models.FactLowestSave:
		return extremeSave(target.Saves, func(a, b int) bool { return a < b })
	case models.FactResistances:
		return orDefault(formatDefenses(target.Resistances, true), "None")
	case models.FactWeaknesses:
		return orDefault(formatDefenses(target.Weaknesses, true), "None")
	case models.FactImmunities:
		return orDefault(formatDefenses(target.Immunities, false), "None")
	case models.FactAttacks:
		return orDefault(formatStrikes(target.Strikes), "No attacks found")
	case models.FactSkills:
		return orDefault(formatTrainedSkills(target.Skills), "No trained skills")
	case models.FactBackground:
		bg := target.Background()
		if len([]rune(bg)) > backgroundLimit {
			return string([]rune(bg)[:backgroundLimit]) + "..."
		}
		return bg
	case models.FactSpecialAttacks:
		return orDefault(specialAttacks(target.Features), "None known")
	case models.FactSpecialAbilities:
		return orDefault(specialAbilities(target.Features), "None known")
	default:
		return "Unknown"
	}
}

func extremeSave(saves []models.Save, better func(a, b int) bool) string {
	if len(saves) == 0 {
		return "Unknown"
	}
	best := saves[0]
	for _, s := range saves[1:] {
		if better(s.Modifier, best.Modifier) {
			best = s
		}
	}
	return fmt.Sprintf("%s (%s)", best.SaveLabel(), signed(best.Modifier))
}

func formatDefenses(list []models.Defense, withValue bool) string {
	parts := make([]string, 0, len(list))
	for _, d := range list {
		if d.Type == "" {
			continue
		}
		part := d.Type
		if withValue {
			part = fmt.Sprintf("%s %d", d.Type, d.Value)
		}
		if len(d.Exceptions) > 0 {
			part += fmt.Sprintf(" (except %s)", strings.Join(d.Exceptions, ", "))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func formatStrikes(strikes []models.Strike) string {
	parts := make([]string, 0, len(strikes))
	for _, s := range strikes {
		bonus := "?"
		if s.Bonus != nil {
			bonus = signed(*s.Bonus)
		}
		damage := "?"
		if len(s.Damage) > 0 {
			damage = strings.Join(s.Damage, " plus ")
		}
		parts = append(parts, fmt.Sprintf("%s %s (%s)", s.Name, bonus, damage))
		if len(parts) == maxListed {
			break
		}
	}
	return strings.Join(parts, "; ")
}

func formatTrainedSkills(skills []models.Skill) string {
	parts := make([]string, 0, len(skills))
	for _, s := range skills {
		if s.Base > 0 || s.Rank > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", s.DisplayLabel(), signed(s.Modifier)))
		}
	}
	return strings.Join(parts, ", ")
}

func specialAttacks(features []models.Feature) string {
	var names []string
	for _, f := range features {
		if strings.EqualFold(f.Type, "action") && strings.EqualFold(f.ActionType, "attack") && f.HasTrait("special") {
			names = append(names, f.Name)
		}
	}
	return strings.Join(names, ", ")
}

func specialAbilities(features []models.Feature) string {
	var names []string
	for _, f := range features {
		t := strings.ToLower(f.Type)
		if t != "action" && t != "feat" {
			continue
		}
		for _, trait := range f.Traits {
			if trait == "reaction" || trait == "free-action" {
				names = append(names, f.Name)
				break
			}
		}
		if len(names) == maxListed {
			break
		}
	}
	return strings.Join(names, ", ")
}

func signed(v int) string {
	if v >= 0 {
		return fmt.Sprintf("+%d", v)
	}
	return fmt.Sprintf("%d", v)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// 虚假信息素材
var (
	falseSaves       = []string{"Fortitude", "Reflex", "Will"}
	falseDamageTypes = []string{"fire", "cold", "electricity", "acid", "poison", "sonic", "force", "negative", "positive", "mental", "slashing", "piercing", "bludgeoning"}
	falseSkills      = []string{"Acrobatics", "Arcana", "Athletics", "Crafting", "Deception", "Diplomacy", "Intimidation", "Medicine", "Nature", "Occultism", "Performance", "Religion", "Society", "Stealth", "Survival", "Thievery"}
	falseAttackNames = []string{"claw", "bite", "fist", "tail", "horn", "slam", "tentacle", "longbow", "crossbow"}
	falseDieSizes    = []int{4, 6, 8, 10, 12}
	falseBackgrounds = []string{
		"This creature is known to be peaceful and rarely attacks.",
		"Legends say this creature can speak Common fluently.",
		"This creature is said to be vulnerable during the day.",
		"Stories tell of this creature's ability to turn invisible at will.",
		"This creature is believed to be attracted to shiny objects.",
		"Ancient texts claim this creature fears running water.",
		"This creature is rumored to have exceptional hearing.",
		"Scholars believe this creature can regenerate lost limbs.",
	}
	falseSpecialAttacks = []string{
		"breath weapon (3d6 fire, DC 20 Reflex)",
		"paralyzing touch (Fort DC 18)",
		"death gaze (Will DC 22)",
		"poison (1d6 poison per round)",
		"web attack (Reflex DC 16)",
	}
	falseSpecialAbilities = []string{
		"darkvision 60 ft., low-light vision",
		"regeneration 5 (acid or fire)",
		"spell resistance 15",
		"telepathy 100 ft.",
		"tremorsense 30 ft.",
	}
)

// FalsePayload 为大失败生成似是而非的信息，每次调用结果随机
func (ie *InformationEngine) FalsePayload(id models.FactID) models.Fact {
	ie.mu.Lock()
	defer ie.mu.Unlock()
	return models.Fact{ID: id, Label: id.Label(), Value: ie.falseValue(id)}
}

func (ie *InformationEngine) falseValue(id models.FactID) string {
	switch id {
	case models.FactHighestSave:
		return fmt.Sprintf("%s (%s)", ie.pick(falseSaves), signed(ie.between(5, 25)))
	case models.FactLowestSave:
		return fmt.Sprintf("%s (%s)", ie.pick(falseSaves), signed(ie.between(-2, 15)))
	case models.FactResistances:
		if ie.rng.Float64() > 0.5 {
			return fmt.Sprintf("%s %d", ie.damageTypes(), ie.between(5, 15))
		}
		return "None"
	case models.FactWeaknesses:
		if ie.rng.Float64() > 0.3 {
			return fmt.Sprintf("%s %d", ie.damageTypes(), ie.between(5, 15))
		}
		return "None"
	case models.FactImmunities:
		if ie.rng.Float64() > 0.6 {
			return ie.damageTypes()
		}
		return "None"
	case models.FactAttacks:
		n := ie.between(1, 3)
		attacks := make([]string, 0, n)
		for i := 0; i < n; i++ {
			kind := "melee"
			if ie.rng.Intn(2) == 1 {
				kind = "ranged"
			}
			damage := fmt.Sprintf("%dd%d+%d", ie.between(1, 3), falseDieSizes[ie.rng.Intn(len(falseDieSizes))], ie.between(0, 10))
			attacks = append(attacks, fmt.Sprintf("%s (%s +%d, %s %s)",
				ie.pick(falseAttackNames), kind, ie.between(5, 25), damage, ie.pick(falseDamageTypes[:5])))
		}
		return strings.Join(attacks, ", ")
	case models.FactSkills:
		picked := ie.distinct(falseSkills, ie.between(2, 5))
		for i, s := range picked {
			picked[i] = fmt.Sprintf("%s +%d", s, ie.between(5, 25))
		}
		return strings.Join(picked, ", ")
	case models.FactBackground:
		return ie.pick(falseBackgrounds)
	case models.FactSpecialAttacks:
		return ie.pick(falseSpecialAttacks)
	case models.FactSpecialAbilities:
		return ie.pick(falseSpecialAbilities)
	default:
		return "You recall something, but you're not quite sure what..."
	}
}

func (ie *InformationEngine) between(lo, hi int) int {
	return lo + ie.rng.Intn(hi-lo+1)
}

func (ie *InformationEngine) pick(list []string) string {
	return list[ie.rng.Intn(len(list))]
}

func (ie *InformationEngine) damageTypes() string {
	return strings.Join(ie.distinct(falseDamageTypes, ie.between(1, 3)), ", ")
}

func (ie *InformationEngine) distinct(list []string, n int) []string {
	idx := ie.rng.Perm(len(list))
	out := make([]string, 0, n)
	for _, i := range idx[:min(n, len(list))] {
		out = append(out, list[i])
	}
	return out
}
