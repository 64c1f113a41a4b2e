package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
	"github.com/aiwuxian/recall-knowledge/internal/services"
)

// 对话框种类
const (
	PromptSkill   = "skill"
	PromptFacts   = "facts"
	PromptDiverse = "diverseRecognition"
)

// PromptEnvelope 发给客户端的对话框
type PromptEnvelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// PromptReply 客户端的回复；Cancelled 表示关闭对话框
type PromptReply struct {
	Cancelled bool            `json:"cancelled,omitempty"`
	Choice    json.RawMessage `json:"choice,omitempty"`
}

// WSPrompter 通过WebSocket向用户弹出对话框并等待回复
type WSPrompter struct {
	manager *ConnectionManager
	logger  *zap.Logger

	mu      sync.Mutex
	waiting map[string]waiter
}

type waiter struct {
	userID string
	reply  chan PromptReply
}

func NewWSPrompter(manager *ConnectionManager, logger *zap.Logger) *WSPrompter {
	p := &WSPrompter{
		manager: manager,
		logger:  logger.Named("WSPrompter"),
		waiting: make(map[string]waiter),
	}
	manager.Handle(models.MsgPromptReply, p.handleReply)
	return p
}

func (p *WSPrompter) ChooseSkill(ctx context.Context, prompt services.SkillPrompt) (services.SkillChoice, error) {
	var choice services.SkillChoice
	cancelled, err := p.ask(ctx, prompt.UserID, PromptSkill, prompt, &choice)
	if err != nil {
		return services.SkillChoice{}, err
	}
	if cancelled {
		return services.SkillChoice{Cancelled: true}, nil
	}
	return choice, nil
}

func (p *WSPrompter) ChooseFacts(ctx context.Context, prompt services.FactPrompt) (services.FactChoice, error) {
	var choice services.FactChoice
	cancelled, err := p.ask(ctx, prompt.UserID, PromptFacts, prompt, &choice)
	if err != nil {
		return services.FactChoice{}, err
	}
	if cancelled {
		return services.FactChoice{Cancelled: true}, nil
	}
	return choice, nil
}

func (p *WSPrompter) OfferDiverseRecognition(ctx context.Context, prompt services.DiversePrompt) (services.TargetChoice, error) {
	var choice services.TargetChoice
	cancelled, err := p.ask(ctx, prompt.UserID, PromptDiverse, prompt, &choice)
	if err != nil {
		return services.TargetChoice{}, err
	}
	if cancelled {
		return services.TargetChoice{Cancelled: true}, nil
	}
	return choice, nil
}

// ask 发出对话框并阻塞到回复或 ctx 结束；用户离线视为取消
func (p *WSPrompter) ask(ctx context.Context, userID, kind string, data any, out any) (bool, error) {
	id := uuid.New().String()
	reply := make(chan PromptReply, 1)

	p.mu.Lock()
	p.waiting[id] = waiter{userID: userID, reply: reply}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiting, id)
		p.mu.Unlock()
	}()

	if err := p.manager.SendToUser(userID, models.MsgPrompt, id, PromptEnvelope{Kind: kind, Data: data}); err != nil {
		if errors.Is(err, ErrUserOffline) {
			p.logger.Warn("用户离线，对话框按取消处理", zap.String("userID", userID), zap.String("kind", kind))
			return true, nil
		}
		return false, err
	}

	select {
	case r := <-reply:
		if r.Cancelled || len(r.Choice) == 0 {
			return true, nil
		}
		if err := json.Unmarshal(r.Choice, out); err != nil {
			return false, fmt.Errorf("解析对话框回复失败: %w", err)
		}
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *WSPrompter) handleReply(_ context.Context, userID string, msg models.Message) {
	var r PromptReply
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		p.logger.Warn("无法解析的对话框回复", zap.Error(err), zap.String("userID", userID))
		return
	}

	// 只接受被询问的用户的回复
	p.mu.Lock()
	w, ok := p.waiting[msg.RequestID]
	if ok && w.userID == userID {
		delete(p.waiting, msg.RequestID)
	} else {
		ok = false
	}
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("忽略过期或不匹配的对话框回复", zap.String("promptID", msg.RequestID), zap.String("userID", userID))
		return
	}
	w.reply <- r
}

// NoticePayload 通知消息
type NoticePayload struct {
	Level   services.NoticeLevel `json:"level"`
	Message string               `json:"message"`
}

// WSAnnouncer 把检定与揭示结果推送到客户端
type WSAnnouncer struct {
	manager *ConnectionManager
}

func NewWSAnnouncer(manager *ConnectionManager) *WSAnnouncer {
	return &WSAnnouncer{manager: manager}
}

func (a *WSAnnouncer) Notify(ctx context.Context, userID string, level services.NoticeLevel, message string) error {
	return a.manager.Send(ctx, models.MsgNotify, NoticePayload{Level: level, Message: message}, userID)
}

func (a *WSAnnouncer) AnnounceCheck(ctx context.Context, ann services.CheckAnnouncement) error {
	return a.deliver(ctx, models.MsgRecallResult, ann, ann.Public, ann.Recipients)
}

func (a *WSAnnouncer) Disclose(ctx context.Context, d services.Disclosure) error {
	return a.deliver(ctx, models.MsgDisclosure, d, d.Public, d.Recipients)
}

func (a *WSAnnouncer) deliver(ctx context.Context, msgType string, payload any, public bool, recipients []string) error {
	if public {
		return a.manager.Send(ctx, msgType, payload)
	}
	if len(recipients) == 0 {
		return nil
	}
	return a.manager.Send(ctx, msgType, payload, recipients...)
}
