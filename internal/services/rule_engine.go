package services

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// Roller 骰子来源，测试中可注入固定值
type Roller interface {
	RollD20() int
}

type RuleEngine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRuleEngine() *RuleEngine {
	return NewRuleEngineWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewRuleEngineWithSource 使用给定随机源
func NewRuleEngineWithSource(src rand.Source) *RuleEngine {
	return &RuleEngine{
		rng: rand.New(src),
	}
}

// RollD20 投D20骰子
func (re *RuleEngine) RollD20() int {
	return re.RollDice(20)
}

// RollDice 投任意骰子
func (re *RuleEngine) RollDice(sides int) int {
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.rng.Intn(sides) + 1
}

// DCConfig DC计算开关
type DCConfig struct {
	AutoCalculate bool
}

// ComputeDC 计算DC：基础值 + 2×之前的尝试次数
func ComputeDC(target *models.Actor, priorAttempts int, cfg DCConfig) int {
	return BaseDC(target, cfg) + 2*max(priorAttempts, 0)
}

// BaseDC 未计入尝试次数的DC
func BaseDC(target *models.Actor, cfg DCConfig) int {
	if cfg.AutoCalculate && target != nil {
		return 10 + target.Level
	}
	return 15
}

// DegreeOf 根据总值与DC的差值计算成功度
func DegreeOf(total, dc int) models.Degree {
	margin := total - dc
	switch {
	case margin >= 10:
		return models.CriticalSuccess
	case margin >= 0:
		return models.Success
	case margin <= -10:
		return models.CriticalFailure
	default:
		return models.Failure
	}
}

// CheckResolver 执行检定
type CheckResolver struct {
	roller Roller
}

func NewCheckResolver(roller Roller) *CheckResolver {
	return &CheckResolver{roller: roller}
}

// Resolve 执行一次检定；fixed 非空时为保证（Assurance）结果，不掷骰也不计入加值
func (cr *CheckResolver) Resolve(skill models.KnowledgeSkill, dc, situational int, fixed *int) models.CheckResult {
	result := models.CheckResult{
		DC:       dc,
		Skill:    skill,
		Modifier: skill.Modifier,
	}

	if fixed != nil {
		result.Total = *fixed
		result.UsedAssurance = true
	} else {
		result.Die = cr.roller.RollD20()
		result.Bonus = situational
		result.Total = result.Die + skill.Modifier + situational
	}

	result.Degree = DegreeOf(result.Total, dc)
	return result
}
