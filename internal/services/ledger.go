package services

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// FlagStore 按用户划分的键值存储，值以JSON保存
type FlagStore interface {
	GetFlag(ctx context.Context, userID, namespace, key string, out any) (bool, error)
	SetFlag(ctx context.Context, userID, namespace, key string, value any) error
	FlagKeys(ctx context.Context, userID, namespace string) ([]string, error)
	FlagUsers(ctx context.Context) ([]string, error)
}

// 存储命名空间；键均为行动者ID，值为按目标ID划分的二级映射
const (
	nsLearned     = "learnedInfo"
	nsAttempts    = "recallAttempts"
	nsThorough    = "thoroughReports"
	nsDiverse     = "diverseRecognition"
	nsSettings    = "settings"
	keyBonusSkill = "bestiaryScholarSkill"
)

// learnedByTarget 目标ID -> 已知信息
type learnedByTarget map[string]models.FactSet

// attemptsByTarget 目标ID -> 尝试次数
type attemptsByTarget map[string]int

// PartyKnowledge 队伍汇总视图，不持久化
type PartyKnowledge struct {
	Facts      models.FactSet             `json:"facts"`
	Provenance map[models.FactID][]string `json:"provenance"` // 信息 -> 学到它的成员名
}

// KnowledgeLedger 已知信息、尝试次数、追踪的生物类型与每轮一次的专长使用记录
type KnowledgeLedger struct {
	store  FlagStore
	logger *zap.Logger
}

func NewKnowledgeLedger(store FlagStore, logger *zap.Logger) *KnowledgeLedger {
	return &KnowledgeLedger{
		store:  store,
		logger: logger.Named("KnowledgeLedger"),
	}
}

func (kl *KnowledgeLedger) learnedMap(ctx context.Context, userID, actorID string) (learnedByTarget, error) {
	m := learnedByTarget{}
	if _, err := kl.store.GetFlag(ctx, userID, nsLearned, actorID, &m); err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not read learned information", err)
	}
	return m, nil
}

// Learned 该用户的行动者对目标已知的信息
func (kl *KnowledgeLedger) Learned(ctx context.Context, userID, actorID, targetID string) (models.FactSet, error) {
	m, err := kl.learnedMap(ctx, userID, actorID)
	if err != nil {
		return nil, err
	}
	return models.FactSet{}.Merge(m[targetID]...), nil
}

// Record 合并新信息（并集），重复记录无额外效果
func (kl *KnowledgeLedger) Record(ctx context.Context, userID, actorID, targetID string, facts []models.FactID) error {
	m, err := kl.learnedMap(ctx, userID, actorID)
	if err != nil {
		return err
	}
	merged := m[targetID].Merge(facts...)
	if len(merged) == len(m[targetID]) {
		return nil
	}
	m[targetID] = merged
	if err := kl.store.SetFlag(ctx, userID, nsLearned, actorID, m); err != nil {
		return wrapError(CodePersistenceFailure, "could not save learned information", err)
	}
	kl.logger.Debug("记录已知信息",
		zap.String("userID", userID),
		zap.String("actorID", actorID),
		zap.String("targetID", targetID),
		zap.Any("facts", merged),
	)
	return nil
}

// AggregateForParty 汇总所有用户为队伍成员存储的信息，并记录出处
func (kl *KnowledgeLedger) AggregateForParty(ctx context.Context, members []models.Actor, targetID string) (PartyKnowledge, error) {
	out := PartyKnowledge{Provenance: map[models.FactID][]string{}}

	users, err := kl.store.FlagUsers(ctx)
	if err != nil {
		return out, wrapError(CodePersistenceFailure, "could not list users", err)
	}
	sort.Strings(users)

	for _, member := range members {
		for _, userID := range users {
			facts, err := kl.Learned(ctx, userID, member.ID, targetID)
			if err != nil {
				return out, err
			}
			for _, f := range facts {
				out.Facts = out.Facts.Merge(f)
				if !containsFold(out.Provenance[f], member.DisplayName()) {
					out.Provenance[f] = append(out.Provenance[f], member.DisplayName())
				}
			}
		}
	}
	return out, nil
}

// Attempts 之前的尝试次数
func (kl *KnowledgeLedger) Attempts(ctx context.Context, userID, actorID, targetID string) (int, error) {
	m := attemptsByTarget{}
	if _, err := kl.store.GetFlag(ctx, userID, nsAttempts, actorID, &m); err != nil {
		return 0, wrapError(CodePersistenceFailure, "could not read attempt count", err)
	}
	return max(m[targetID], 0), nil
}

// SetAttempts 直接设定尝试次数（GM调整），不小于0
func (kl *KnowledgeLedger) SetAttempts(ctx context.Context, userID, actorID, targetID string, count int) error {
	m := attemptsByTarget{}
	if _, err := kl.store.GetFlag(ctx, userID, nsAttempts, actorID, &m); err != nil {
		return wrapError(CodePersistenceFailure, "could not read attempt count", err)
	}
	m[targetID] = max(count, 0)
	if err := kl.store.SetFlag(ctx, userID, nsAttempts, actorID, m); err != nil {
		return wrapError(CodePersistenceFailure, "could not save attempt count", err)
	}
	return nil
}

// IncrementAttempts 检定完成后调用
func (kl *KnowledgeLedger) IncrementAttempts(ctx context.Context, userID, actorID, targetID string) (int, error) {
	n, err := kl.Attempts(ctx, userID, actorID, targetID)
	if err != nil {
		return 0, err
	}
	if err := kl.SetAttempts(ctx, userID, actorID, targetID, n+1); err != nil {
		return 0, err
	}
	return n + 1, nil
}

// TrackedTypes 详尽报告已成功识别的生物类型
func (kl *KnowledgeLedger) TrackedTypes(ctx context.Context, userID, actorID string) ([]string, error) {
	var types []string
	if _, err := kl.store.GetFlag(ctx, userID, nsThorough, actorID, &types); err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not read tracked creature types", err)
	}
	return types, nil
}

// TrackType 追加生物类型，已存在时返回false
func (kl *KnowledgeLedger) TrackType(ctx context.Context, userID, actorID, creatureType string) (bool, error) {
	if creatureType == "" {
		return false, nil
	}
	types, err := kl.TrackedTypes(ctx, userID, actorID)
	if err != nil {
		return false, err
	}
	if containsFold(types, creatureType) {
		return false, nil
	}
	if err := kl.SetTrackedTypes(ctx, userID, actorID, append(types, creatureType)); err != nil {
		return false, err
	}
	kl.logger.Info("详尽报告追踪新的生物类型", zap.String("actorID", actorID), zap.String("type", creatureType))
	return true, nil
}

// SetTrackedTypes 整体替换追踪列表，只保留规范类型并去重
func (kl *KnowledgeLedger) SetTrackedTypes(ctx context.Context, userID, actorID string, types []string) error {
	set := newOrderedSet()
	for _, t := range types {
		if IsCreatureType(t) {
			set.add(strings.ToLower(t))
		}
	}
	if set.items == nil {
		set.items = []string{}
	}
	if err := kl.store.SetFlag(ctx, userID, nsThorough, actorID, set.items); err != nil {
		return wrapError(CodePersistenceFailure, "could not save tracked creature types", err)
	}
	return nil
}

// DiverseRecognitionUsed 本轮是否已使用多样识别
func (kl *KnowledgeLedger) DiverseRecognitionUsed(ctx context.Context, userID, actorID string) (bool, error) {
	var used bool
	if _, err := kl.store.GetFlag(ctx, userID, nsDiverse, actorID, &used); err != nil {
		return false, wrapError(CodePersistenceFailure, "could not read Diverse Recognition usage", err)
	}
	return used, nil
}

// MarkDiverseRecognitionUsed 标记本轮已使用
func (kl *KnowledgeLedger) MarkDiverseRecognitionUsed(ctx context.Context, userID, actorID string) error {
	if err := kl.store.SetFlag(ctx, userID, nsDiverse, actorID, true); err != nil {
		return wrapError(CodePersistenceFailure, "could not save Diverse Recognition usage", err)
	}
	return nil
}

// ResetDiverseRecognition 新一轮开始时清除所有用户的使用记录
func (kl *KnowledgeLedger) ResetDiverseRecognition(ctx context.Context) error {
	users, err := kl.store.FlagUsers(ctx)
	if err != nil {
		return wrapError(CodePersistenceFailure, "could not list users", err)
	}
	for _, userID := range users {
		keys, err := kl.store.FlagKeys(ctx, userID, nsDiverse)
		if err != nil {
			return wrapError(CodePersistenceFailure, "could not list Diverse Recognition usage", err)
		}
		for _, actorID := range keys {
			if err := kl.store.SetFlag(ctx, userID, nsDiverse, actorID, false); err != nil {
				return wrapError(CodePersistenceFailure, "could not reset Diverse Recognition usage", err)
			}
		}
	}
	return nil
}

// BonusSkill 用户配置的兽典学者技能
func (kl *KnowledgeLedger) BonusSkill(ctx context.Context, userID string) (string, error) {
	var skill string
	if _, err := kl.store.GetFlag(ctx, userID, nsSettings, keyBonusSkill, &skill); err != nil {
		return "", wrapError(CodePersistenceFailure, "could not read settings", err)
	}
	return skill, nil
}

// SetBonusSkill 设定兽典学者技能
func (kl *KnowledgeLedger) SetBonusSkill(ctx context.Context, userID, skill string) error {
	skill = strings.ToLower(skill)
	if !containsFold(BestiaryScholarChoices, skill) {
		return newError(CodeInvalidSelection, "Bestiary Scholar skill must be arcana, nature, occultism or religion")
	}
	if err := kl.store.SetFlag(ctx, userID, nsSettings, keyBonusSkill, skill); err != nil {
		return wrapError(CodePersistenceFailure, "could not save settings", err)
	}
	return nil
}
