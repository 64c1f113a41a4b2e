package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// CheckState 单次调用所处的阶段
type CheckState string

const (
	StateIdle             CheckState = "idle"
	StateAwaitingApproval CheckState = "awaitingApproval"
	StateSkillSelected    CheckState = "skillSelected"
	StateRollPending      CheckState = "rollPending"
	StateResolved         CheckState = "resolved"
	StateAborted          CheckState = "aborted"
)

// RecallRequest 发起一次回忆知识
type RecallRequest struct {
	UserID   string `json:"user_id"`
	ActorID  string `json:"actor_id"`
	TargetID string `json:"target_id"`
}

// RecallOutcome 调用结果；Next 为多样识别触发的后续检定
type RecallOutcome struct {
	State     CheckState               `json:"state"`
	ActorID   string                   `json:"actor_id"`
	TargetID  string                   `json:"target_id"`
	Approval  ApprovalState            `json:"approval,omitempty"`
	Result    *models.CheckResult      `json:"result,omitempty"`
	Budget    models.InformationBudget `json:"budget"`
	Learned   []models.FactID          `json:"learned,omitempty"`
	Disclosed []models.Fact            `json:"disclosed,omitempty"`
	Next      *RecallOutcome           `json:"next,omitempty"`
}

// KnownFact 已知信息及其来源
type KnownFact struct {
	models.Fact
	LearnedBy []string `json:"learned_by,omitempty"`
}

// KnownFactsView 对某个目标已知的信息
type KnownFactsView struct {
	TargetID   string      `json:"target_id"`
	TargetName string      `json:"target_name"`
	Shared     bool        `json:"shared"`
	Facts      []KnownFact `json:"facts"`
}

// Deps 回忆知识服务的协作者
type Deps struct {
	Actors     ActorDirectory
	Users      UserDirectory
	Ledger     *KnowledgeLedger
	Approval   *ApprovalCoordinator
	Prompter   Prompter
	Announcer  Announcer
	Roller     Roller
	Fabricator FactFabricator // 可选
	Metrics    *Metrics       // 可选
	Config     models.RecallConfig
	Logger     *zap.Logger
}

// RecallKnowledgeService 回忆知识流程：批准 -> 选技能 -> 检定 -> 计算信息数 -> 选择并揭示 -> 记录
type RecallKnowledgeService struct {
	actors     ActorDirectory
	users      UserDirectory
	ledger     *KnowledgeLedger
	approval   *ApprovalCoordinator
	prompter   Prompter
	announcer  Announcer
	catalog    *SkillCatalog
	feats      *FeatBonusResolver
	info       *InformationEngine
	checks     *CheckResolver
	fabricator FactFabricator
	metrics    *Metrics
	cfg        models.RecallConfig
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewRecallKnowledgeService(deps Deps) *RecallKnowledgeService {
	cfg := deps.Config
	if len(cfg.RevealableFacts) == 0 {
		cfg.RevealableFacts = append([]models.FactID{}, models.DefaultRevealableFacts...)
	}
	roller := deps.Roller
	if roller == nil {
		roller = NewRuleEngine()
	}
	feats := NewFeatBonusResolver()

	return &RecallKnowledgeService{
		actors:     deps.Actors,
		users:      deps.Users,
		ledger:     deps.Ledger,
		approval:   deps.Approval,
		prompter:   deps.Prompter,
		announcer:  deps.Announcer,
		catalog:    NewSkillCatalog(),
		feats:      feats,
		info:       NewInformationEngine(feats, cfg.FalseInfoOnCritFail),
		checks:     NewCheckResolver(roller),
		fabricator: deps.Fabricator,
		metrics:    deps.Metrics,
		cfg:        cfg,
		logger:     deps.Logger.Named("RecallKnowledge"),
		inflight:   make(map[string]struct{}),
	}
}

// RegisterEvents 订阅宿主事件
func (s *RecallKnowledgeService) RegisterEvents(bus *EventBus) {
	bus.Subscribe(EventReady, func(ctx context.Context) error {
		s.logger.Info("🧠 回忆知识服务就绪",
			zap.Bool("requireGMApproval", s.cfg.RequireGMApproval),
			zap.Bool("shareWithParty", s.cfg.ShareWithParty),
		)
		return nil
	})
	bus.Subscribe(EventRoundStart, func(ctx context.Context) error {
		if err := s.ledger.ResetDiverseRecognition(ctx); err != nil {
			return err
		}
		s.logger.Info("新一轮开始，已重置多样识别")
		return nil
	})
}

// Initiate 发起一次回忆知识检定
func (s *RecallKnowledgeService) Initiate(ctx context.Context, req RecallRequest) (*RecallOutcome, error) {
	if req.UserID == "" {
		return nil, newError(CodeUserInputMissing, "No user specified.")
	}
	if req.TargetID == "" {
		s.notify(ctx, req.UserID, NoticeWarn, "Please target a creature first.")
		return s.reject(newError(CodeUserInputMissing, "Please target a creature first."))
	}
	if req.ActorID == "" {
		s.notify(ctx, req.UserID, NoticeError, "No character selected.")
		return s.reject(newError(CodeUserInputMissing, "No character selected."))
	}

	user, err := s.resolveUser(ctx, req.UserID)
	if err != nil {
		return s.reject(err)
	}

	actor, err := s.actors.Actor(ctx, req.ActorID)
	if err != nil {
		return s.reject(wrapError(CodePersistenceFailure, "could not load character", err))
	}
	if actor == nil {
		s.notify(ctx, user.ID, NoticeError, "No character selected.")
		return s.reject(newError(CodeUserInputMissing, "No character selected."))
	}

	target, err := s.actors.Actor(ctx, req.TargetID)
	if err != nil {
		return s.reject(wrapError(CodePersistenceFailure, "could not load target", err))
	}
	if target == nil {
		s.notify(ctx, user.ID, NoticeWarn, "Please target a creature first.")
		return s.reject(newError(CodeUserInputMissing, "Please target a creature first."))
	}

	return s.run(ctx, user, actor, target, nil)
}

func (s *RecallKnowledgeService) reject(err error) (*RecallOutcome, error) {
	s.metrics.rejected(CodeOf(err))
	return nil, err
}

// run 执行一次完整流程；preset 非空时跳过技能选择（多样识别沿用上一次的技能）
func (s *RecallKnowledgeService) run(ctx context.Context, user models.User, actor, target *models.Actor, preset *SkillChoice) (*RecallOutcome, error) {
	release, ok := s.acquire(user.ID, actor.ID, target.ID)
	if !ok {
		s.notify(ctx, user.ID, NoticeWarn, "A Recall Knowledge check against this creature is already in progress.")
		return s.reject(newError(CodeConcurrentInvocation, "A Recall Knowledge check against this creature is already in progress."))
	}
	defer release()

	out := &RecallOutcome{State: StateIdle, ActorID: actor.ID, TargetID: target.ID}
	log := s.logger.With(
		zap.String("userID", user.ID),
		zap.String("actorID", actor.ID),
		zap.String("targetID", target.ID),
	)
	abort := func(err error) (*RecallOutcome, error) {
		out.State = StateAborted
		s.metrics.rejected(CodeOf(err))
		log.Debug("流程中止", zap.Error(err))
		return out, err
	}

	skills := s.catalog.UsableSkills(actor)
	if preset != nil {
		skills = filterSkills(skills, preset.SkillKey)
	}
	if len(skills) == 0 {
		s.notify(ctx, user.ID, NoticeWarn, "No knowledge skills available.")
		return abort(newError(CodeUserInputMissing, "No knowledge skills available."))
	}

	bonusSkill, err := s.ledger.BonusSkill(ctx, user.ID)
	if err != nil {
		return abort(err)
	}
	appropriate := s.catalog.AppropriateSkills(target, SkillCatalogConfig{BonusSkill: bonusSkill})

	attempts, err := s.ledger.Attempts(ctx, user.ID, actor.ID, target.ID)
	if err != nil {
		return abort(err)
	}
	dcCfg := DCConfig{AutoCalculate: s.cfg.AutoCalculateDC}

	// 批准
	if s.cfg.RequireGMApproval && !user.IsGM {
		out.State = StateAwaitingApproval
		s.notify(ctx, user.ID, NoticeInfo, "Recall Knowledge request sent to GM for approval. The GM can adjust your attempt count if needed.")
	}
	approval, err := s.approval.Request(ctx, s.cfg.RequireGMApproval, user, models.PendingApprovalRequest{
		ActorID:         actor.ID,
		ActorName:       actor.DisplayName(),
		TargetID:        target.ID,
		TargetName:      target.DisplayName(),
		Skills:          skills,
		CurrentAttempts: attempts,
		BaseDC:          BaseDC(target, dcCfg),
		CurrentDC:       ComputeDC(target, attempts, dcCfg),
	})
	if err != nil {
		return abort(err)
	}
	out.Approval = approval.State
	switch approval.State {
	case ApprovalDenied:
		return abort(newError(CodeApprovalDenied, approval.Reason))
	case ApprovalApproved:
		if approval.AdjustedAttempts != nil {
			if err := s.ledger.SetAttempts(ctx, user.ID, actor.ID, target.ID, *approval.AdjustedAttempts); err != nil {
				return abort(err)
			}
			attempts = *approval.AdjustedAttempts
		}
		s.notify(ctx, user.ID, NoticeInfo, "GM approved your Recall Knowledge request!")
	}
	log.Debug("批准阶段完成", zap.String("approval", string(approval.State)), zap.Int("attempts", attempts))

	// 技能选择
	choice := preset
	if choice == nil {
		c, err := s.chooseSkill(ctx, user, actor, target, skills, appropriate, ComputeDC(target, attempts, dcCfg), attempts)
		if err != nil {
			return abort(err)
		}
		if c.Cancelled {
			out.State = StateAborted
			log.Debug("技能选择已取消")
			return out, nil
		}
		choice = &c
	}
	skill, ok := findSkill(skills, choice.SkillKey)
	if !ok {
		s.notify(ctx, user.ID, NoticeError, "Selected skill not found.")
		return abort(newError(CodeInvalidSelection, "Selected skill not found."))
	}
	out.State = StateSkillSelected
	log.Debug("技能已选择", zap.String("skill", skill.Key), zap.Bool("assurance", choice.UseAssurance))

	// 检定
	out.State = StateRollPending
	result, attempt, err := s.performCheck(ctx, user, actor, target, skill, choice.UseAssurance, ComputeDC(target, attempts, dcCfg))
	if err != nil {
		return abort(err)
	}
	out.Result = &result

	budget := s.info.Budget(result.Degree, actor)
	out.Budget = budget
	s.announceCheck(ctx, user, actor, target, result, budget, attempt)
	log.Info("🎲 回忆知识检定",
		zap.String("skill", skill.Key),
		zap.Int("total", result.Total),
		zap.Int("dc", result.DC),
		zap.String("degree", string(result.Degree)),
		zap.Int("budget", budget.Total),
	)

	if budget.Total <= 0 {
		out.State = StateResolved
		s.notify(ctx, user.ID, NoticeInfo, fmt.Sprintf("You failed to recall any information about %s.", target.DisplayName()))
		return out, nil
	}

	// 信息选择
	confirmed, err := s.disclose(ctx, user, actor, target, budget, out)
	if err != nil {
		return abort(err)
	}
	out.State = StateResolved
	if !confirmed {
		return out, nil
	}

	next, err := s.offerDiverseRecognition(ctx, user, actor, target, skill, choice.UseAssurance)
	out.Next = next
	if err != nil {
		return out, err
	}
	return out, nil
}

// performCheck 掷骰后才计入尝试次数；持久化失败时不进入信息选择
func (s *RecallKnowledgeService) performCheck(ctx context.Context, user models.User, actor, target *models.Actor, skill models.KnowledgeSkill, useAssurance bool, dc int) (models.CheckResult, int, error) {
	var fixed *int
	if useAssurance {
		if a := s.feats.CheckAssurance(actor, skill.Key); a.Available {
			fixed = &a.FixedValue
		} else {
			s.notify(ctx, user.ID, NoticeWarn, fmt.Sprintf("You don't have Assurance for %s.", skill.Name))
		}
	}

	situational := 0
	if fixed == nil {
		tracked, err := s.ledger.TrackedTypes(ctx, user.ID, actor.ID)
		if err != nil {
			return models.CheckResult{}, 0, err
		}
		situational = s.feats.ThoroughReportsBonus(actor, target, skill.Key, tracked)
	}

	result := s.checks.Resolve(skill, dc, situational, fixed)

	attempt, err := s.ledger.IncrementAttempts(ctx, user.ID, actor.ID, target.ID)
	if err != nil {
		s.logger.Error("保存尝试次数失败", zap.Error(err), zap.String("actorID", actor.ID), zap.String("targetID", target.ID))
		return result, 0, err
	}
	s.metrics.check(result)

	if result.Degree.IsSuccess() && HasThoroughReports(actor) {
		if _, err := s.ledger.TrackType(ctx, user.ID, actor.ID, InferCreatureType(target)); err != nil {
			return result, attempt, err
		}
	}
	return result, attempt, nil
}

// disclose 信息选择与揭示；返回用户是否确认了选择
func (s *RecallKnowledgeService) disclose(ctx context.Context, user models.User, actor, target *models.Actor, budget models.InformationBudget, out *RecallOutcome) (bool, error) {
	known, err := s.knownForSelection(ctx, user.ID, actor, target.ID)
	if err != nil {
		return false, err
	}
	selectable, alreadyKnown := SelectionOptions(s.cfg.RevealableFacts, known)
	if len(selectable) == 0 {
		s.notify(ctx, user.ID, NoticeInfo, fmt.Sprintf("You already know everything you can recall about %s.", target.DisplayName()))
		return true, nil
	}

	pctx, cancel := s.promptContext(ctx)
	choice, err := s.prompter.ChooseFacts(pctx, FactPrompt{
		UserID:       user.ID,
		ActorName:    actor.DisplayName(),
		TargetName:   target.DisplayName(),
		Budget:       models.InformationBudget{Total: budget.Total, Sources: budget.Sources},
		SourceLines:  sourceLines(budget),
		Selectable:   labelled(selectable),
		AlreadyKnown: labelled(alreadyKnown),
	})
	cancel()
	if err != nil {
		if !promptExpired(err) {
			return false, err
		}
		choice = FactChoice{Cancelled: true}
	}
	if choice.Cancelled {
		s.logger.Debug("信息选择已取消", zap.String("targetID", target.ID))
		return false, nil
	}

	selected, err := ValidateSelection(choice.Facts, selectable, budget.Total)
	if err != nil {
		return false, err
	}
	if len(selected) == 0 {
		s.notify(ctx, user.ID, NoticeInfo, "No information selected.")
		return true, nil
	}

	// 虚假信息照常展示，但不记录
	if !budget.FalseInfo {
		if err := s.ledger.Record(ctx, user.ID, actor.ID, target.ID, selected); err != nil {
			return false, err
		}
		s.metrics.facts(len(selected))
		out.Learned = selected
	} else {
		s.metrics.falseInfo()
	}

	facts := s.factsFor(ctx, target, selected, budget.FalseInfo)
	out.Disclosed = facts

	d := Disclosure{
		ActorName:  actor.DisplayName(),
		TargetName: target.DisplayName(),
		Facts:      facts,
		Public:     s.cfg.ShareWithParty,
	}
	if !d.Public {
		d.Recipients = s.withGMs(ctx, user.ID)
	}
	if err := s.announcer.Disclose(ctx, d); err != nil {
		s.logger.Warn("发送揭示消息失败", zap.Error(err))
	}
	return true, nil
}

func (s *RecallKnowledgeService) factsFor(ctx context.Context, target *models.Actor, ids []models.FactID, falseInfo bool) []models.Fact {
	facts := make([]models.Fact, 0, len(ids))
	for _, id := range ids {
		if !falseInfo {
			facts = append(facts, s.info.ExtractFact(target, id))
			continue
		}
		fact := s.info.FalsePayload(id)
		if s.fabricator != nil {
			if f, err := s.fabricator.FabricateFact(ctx, target, fact); err != nil {
				s.logger.Warn("虚假信息润色失败，使用随机内容", zap.Error(err))
			} else {
				fact = f
			}
		}
		facts = append(facts, fact)
	}
	return facts
}

// offerDiverseRecognition 专长、本轮未用且技能达到大师时，用同一技能对另一目标再次检定
func (s *RecallKnowledgeService) offerDiverseRecognition(ctx context.Context, user models.User, actor, previous *models.Actor, skill models.KnowledgeSkill, useAssurance bool) (*RecallOutcome, error) {
	if !HasDiverseRecognition(actor) || actor.SkillRank(skill.Key) < models.RankMaster {
		return nil, nil
	}
	used, err := s.ledger.DiverseRecognitionUsed(ctx, user.ID, actor.ID)
	if err != nil || used {
		return nil, err
	}

	all, err := s.actors.Actors(ctx)
	if err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not list creatures", err)
	}
	var targets []TargetOption
	for _, a := range all {
		if a.ID == previous.ID || a.ID == actor.ID {
			continue
		}
		targets = append(targets, TargetOption{ID: a.ID, Name: a.DisplayName()})
	}
	if len(targets) == 0 {
		s.notify(ctx, user.ID, NoticeWarn, "No other creatures available for Diverse Recognition.")
		return nil, nil
	}

	pctx, cancel := s.promptContext(ctx)
	choice, err := s.prompter.OfferDiverseRecognition(pctx, DiversePrompt{
		UserID:         user.ID,
		ActorName:      actor.DisplayName(),
		PreviousTarget: previous.DisplayName(),
		SkillLabel:     skill.Name,
		Targets:        targets,
	})
	cancel()
	if err != nil {
		if !promptExpired(err) {
			return nil, err
		}
		choice = TargetChoice{Cancelled: true}
	}
	if choice.Cancelled || choice.TargetID == "" {
		return nil, nil
	}
	if !hasTarget(targets, choice.TargetID) {
		return nil, newError(CodeInvalidSelection, "Target actor not found.")
	}

	next, err := s.actors.Actor(ctx, choice.TargetID)
	if err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not load target", err)
	}
	if next == nil {
		s.notify(ctx, user.ID, NoticeError, "Target actor not found.")
		return nil, newError(CodeInvalidSelection, "Target actor not found.")
	}
	if err := s.ledger.MarkDiverseRecognitionUsed(ctx, user.ID, actor.ID); err != nil {
		return nil, err
	}
	s.logger.Info("使用多样识别", zap.String("actorID", actor.ID), zap.String("targetID", next.ID))

	return s.run(ctx, user, actor, next, &SkillChoice{SkillKey: skill.Key, UseAssurance: useAssurance})
}

func (s *RecallKnowledgeService) chooseSkill(ctx context.Context, user models.User, actor, target *models.Actor, skills []models.KnowledgeSkill, appropriate []string, dc, attempts int) (SkillChoice, error) {
	assurance := map[string]int{}
	for _, sk := range skills {
		if a := s.feats.CheckAssurance(actor, sk.Key); a.Available {
			assurance[sk.Key] = a.FixedValue
		}
	}

	pctx, cancel := s.promptContext(ctx)
	defer cancel()
	choice, err := s.prompter.ChooseSkill(pctx, SkillPrompt{
		UserID:      user.ID,
		ActorName:   actor.DisplayName(),
		TargetName:  target.DisplayName(),
		Skills:      skills,
		Appropriate: appropriate,
		Assurance:   assurance,
		DC:          dc,
		Attempts:    attempts,
	})
	if err != nil {
		if promptExpired(err) {
			return SkillChoice{Cancelled: true}, nil
		}
		return SkillChoice{}, err
	}
	return choice, nil
}

func (s *RecallKnowledgeService) announceCheck(ctx context.Context, user models.User, actor, target *models.Actor, result models.CheckResult, budget models.InformationBudget, attempt int) {
	a := CheckAnnouncement{
		ActorName:   actor.DisplayName(),
		TargetName:  target.DisplayName(),
		Result:      result,
		Budget:      models.InformationBudget{Total: budget.Total, Sources: budget.Sources},
		SourceLines: sourceLines(budget),
		Attempt:     attempt,
	}
	a.Public, a.Recipients = s.rollAudience(ctx, user)
	if err := s.announcer.AnnounceCheck(ctx, a); err != nil {
		s.logger.Warn("发送检定消息失败", zap.Error(err))
	}
}

// rollAudience 隐藏掷骰时只有GM可见；否则玩家与GM可见；GM自己掷骰为公开
func (s *RecallKnowledgeService) rollAudience(ctx context.Context, user models.User) (bool, []string) {
	if s.cfg.HideRollFromPlayer {
		return false, s.gmIDs(ctx)
	}
	if user.IsGM {
		return true, nil
	}
	return false, s.withGMs(ctx, user.ID)
}

// KnownFacts 用户对目标已知的信息；共享开启时为队伍汇总
func (s *RecallKnowledgeService) KnownFacts(ctx context.Context, userID, actorID, targetID string) (*KnownFactsView, error) {
	target, err := s.actors.Actor(ctx, targetID)
	if err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not load target", err)
	}
	if target == nil {
		return nil, newError(CodeNotFound, "Target actor not found.")
	}
	view := &KnownFactsView{TargetID: target.ID, TargetName: target.DisplayName(), Shared: s.cfg.ShareWithParty}

	if s.cfg.ShareWithParty {
		members, err := s.partyWith(ctx, actorID)
		if err != nil {
			return nil, err
		}
		party, err := s.ledger.AggregateForParty(ctx, members, targetID)
		if err != nil {
			return nil, err
		}
		for _, id := range party.Facts {
			view.Facts = append(view.Facts, KnownFact{Fact: s.info.ExtractFact(target, id), LearnedBy: party.Provenance[id]})
		}
		return view, nil
	}

	if actorID == "" {
		return nil, newError(CodeUserInputMissing, "No character selected.")
	}
	learned, err := s.ledger.Learned(ctx, userID, actorID, targetID)
	if err != nil {
		return nil, err
	}
	for _, id := range learned {
		view.Facts = append(view.Facts, KnownFact{Fact: s.info.ExtractFact(target, id)})
	}
	return view, nil
}

// knownForSelection 选择阶段视为已知的信息；共享开启时包含队友已知的
func (s *RecallKnowledgeService) knownForSelection(ctx context.Context, userID string, actor *models.Actor, targetID string) (models.FactSet, error) {
	known, err := s.ledger.Learned(ctx, userID, actor.ID, targetID)
	if err != nil {
		return nil, err
	}
	if !s.cfg.ShareWithParty {
		return known, nil
	}
	members, err := s.partyWith(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	party, err := s.ledger.AggregateForParty(ctx, members, targetID)
	if err != nil {
		return nil, err
	}
	return known.Merge(party.Facts...), nil
}

// partyWith 队伍成员，行动者不在队伍中时也计入
func (s *RecallKnowledgeService) partyWith(ctx context.Context, actorID string) ([]models.Actor, error) {
	members, err := s.actors.PartyMembers(ctx)
	if err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not list party members", err)
	}
	if actorID == "" {
		return members, nil
	}
	for _, m := range members {
		if m.ID == actorID {
			return members, nil
		}
	}
	actor, err := s.actors.Actor(ctx, actorID)
	if err != nil {
		return nil, wrapError(CodePersistenceFailure, "could not load character", err)
	}
	if actor != nil {
		members = append(members, *actor)
	}
	return members, nil
}

// HandleApprovalResponse GM回复的入口；只接受GM用户
func (s *RecallKnowledgeService) HandleApprovalResponse(ctx context.Context, resp models.ApprovalResponse) error {
	gm, err := s.resolveUser(ctx, resp.GMID)
	if err != nil {
		return err
	}
	if !gm.IsGM {
		return newError(CodeApprovalDenied, "Only a GM can answer approval requests.")
	}
	if !s.approval.HandleResponse(resp) {
		return newError(CodeNotFound, "Approval request not found or already answered.")
	}
	return nil
}

// PendingApprovals 等待中的批准请求
func (s *RecallKnowledgeService) PendingApprovals() []models.PendingApprovalRequest {
	return s.approval.Pending()
}

// TrackedTypes 详尽报告追踪的生物类型
func (s *RecallKnowledgeService) TrackedTypes(ctx context.Context, userID, actorID string) ([]string, error) {
	return s.ledger.TrackedTypes(ctx, userID, actorID)
}

// SetTrackedTypes 替换追踪的生物类型
func (s *RecallKnowledgeService) SetTrackedTypes(ctx context.Context, userID, actorID string, types []string) ([]string, error) {
	var invalid []string
	for _, t := range types {
		if !IsCreatureType(t) {
			invalid = append(invalid, t)
		}
	}
	if len(invalid) > 0 {
		return nil, newError(CodeInvalidSelection, "unknown creature types: "+strings.Join(invalid, ", "))
	}
	if err := s.ledger.SetTrackedTypes(ctx, userID, actorID, types); err != nil {
		return nil, err
	}
	return s.ledger.TrackedTypes(ctx, userID, actorID)
}

// BonusSkill 兽典学者技能
func (s *RecallKnowledgeService) BonusSkill(ctx context.Context, userID string) (string, error) {
	return s.ledger.BonusSkill(ctx, userID)
}

// SetBonusSkill 设定兽典学者技能
func (s *RecallKnowledgeService) SetBonusSkill(ctx context.Context, userID, skill string) error {
	return s.ledger.SetBonusSkill(ctx, userID, skill)
}

// acquire 同一 (用户, 行动者, 目标) 同时只允许一次调用
func (s *RecallKnowledgeService) acquire(userID, actorID, targetID string) (func(), bool) {
	key := userID + "\x00" + actorID + "\x00" + targetID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return nil, false
	}
	s.inflight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}, true
}

func (s *RecallKnowledgeService) resolveUser(ctx context.Context, userID string) (models.User, error) {
	if userID == "" {
		return models.User{}, newError(CodeUserInputMissing, "No user specified.")
	}
	u, err := s.users.User(ctx, userID)
	if err != nil {
		return models.User{}, wrapError(CodePersistenceFailure, "could not load user", err)
	}
	if u == nil {
		// 未登记的用户按普通玩家处理
		return models.User{ID: userID, Name: userID}, nil
	}
	return *u, nil
}

func (s *RecallKnowledgeService) gmIDs(ctx context.Context) []string {
	gms, err := s.users.GMs(ctx)
	if err != nil {
		s.logger.Warn("读取GM列表失败", zap.Error(err))
		return nil
	}
	ids := make([]string, 0, len(gms))
	for _, gm := range gms {
		ids = append(ids, gm.ID)
	}
	return ids
}

func (s *RecallKnowledgeService) withGMs(ctx context.Context, userID string) []string {
	ids := []string{userID}
	for _, id := range s.gmIDs(ctx) {
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *RecallKnowledgeService) notify(ctx context.Context, userID string, level NoticeLevel, message string) {
	if err := s.announcer.Notify(ctx, userID, level, message); err != nil {
		s.logger.Warn("发送通知失败", zap.Error(err), zap.String("userID", userID))
	}
}

func (s *RecallKnowledgeService) promptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.PromptTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.PromptTimeout)
	}
	return context.WithCancel(ctx)
}

// promptExpired 对话框超时按取消处理
func promptExpired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func sourceLines(budget models.InformationBudget) []string {
	return InformationBonus{Sources: budget.Sources}.Lines()
}

func labelled(ids []models.FactID) []models.Fact {
	out := make([]models.Fact, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Fact{ID: id, Label: id.Label()})
	}
	return out
}

func filterSkills(skills []models.KnowledgeSkill, key string) []models.KnowledgeSkill {
	var out []models.KnowledgeSkill
	for _, sk := range skills {
		if strings.EqualFold(sk.Key, key) {
			out = append(out, sk)
		}
	}
	return out
}

func findSkill(skills []models.KnowledgeSkill, key string) (models.KnowledgeSkill, bool) {
	for _, sk := range skills {
		if strings.EqualFold(sk.Key, key) {
			return sk, true
		}
	}
	return models.KnowledgeSkill{}, false
}

func hasTarget(targets []TargetOption, id string) bool {
	for _, t := range targets {
		if t.ID == id {
			return true
		}
	}
	return false
}
