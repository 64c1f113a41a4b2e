package services

import (
	"context"
	"sync"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

type sentMessage struct {
	Type       string
	Payload    any
	Recipients []string
}

// recordingChannel 记录发出的消息；onSend 可在发送时做出反应（例如模拟GM回复）
type recordingChannel struct {
	mu     sync.Mutex
	sent   []sentMessage
	onSend func(msgType string, payload any)
}

func (c *recordingChannel) Send(_ context.Context, msgType string, payload any, recipients ...string) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentMessage{Type: msgType, Payload: payload, Recipients: recipients})
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(msgType, payload)
	}
	return nil
}

func (c *recordingChannel) ofType(msgType string) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentMessage
	for _, m := range c.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type notice struct {
	UserID  string
	Level   NoticeLevel
	Message string
}

// recordingAnnouncer 记录全部输出
type recordingAnnouncer struct {
	mu          sync.Mutex
	notices     []notice
	checks      []CheckAnnouncement
	disclosures []Disclosure
}

func (a *recordingAnnouncer) Notify(_ context.Context, userID string, level NoticeLevel, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notices = append(a.notices, notice{UserID: userID, Level: level, Message: message})
	return nil
}

func (a *recordingAnnouncer) AnnounceCheck(_ context.Context, c CheckAnnouncement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, c)
	return nil
}

func (a *recordingAnnouncer) Disclose(_ context.Context, d Disclosure) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disclosures = append(a.disclosures, d)
	return nil
}

func (a *recordingAnnouncer) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.notices))
	for _, n := range a.notices {
		out = append(out, n.Message)
	}
	return out
}

// scriptedPrompter 按预设脚本回答对话框，并记录收到的提示
type scriptedPrompter struct {
	mu sync.Mutex

	skill   func(SkillPrompt) (SkillChoice, error)
	facts   func(FactPrompt) (FactChoice, error)
	diverse func(DiversePrompt) (TargetChoice, error)

	skillPrompts   []SkillPrompt
	factPrompts    []FactPrompt
	diversePrompts []DiversePrompt
}

func (p *scriptedPrompter) ChooseSkill(_ context.Context, prompt SkillPrompt) (SkillChoice, error) {
	p.mu.Lock()
	p.skillPrompts = append(p.skillPrompts, prompt)
	fn := p.skill
	p.mu.Unlock()
	if fn == nil {
		return SkillChoice{Cancelled: true}, nil
	}
	return fn(prompt)
}

func (p *scriptedPrompter) ChooseFacts(_ context.Context, prompt FactPrompt) (FactChoice, error) {
	p.mu.Lock()
	p.factPrompts = append(p.factPrompts, prompt)
	fn := p.facts
	p.mu.Unlock()
	if fn == nil {
		return FactChoice{Cancelled: true}, nil
	}
	return fn(prompt)
}

func (p *scriptedPrompter) OfferDiverseRecognition(_ context.Context, prompt DiversePrompt) (TargetChoice, error) {
	p.mu.Lock()
	p.diversePrompts = append(p.diversePrompts, prompt)
	fn := p.diverse
	p.mu.Unlock()
	if fn == nil {
		return TargetChoice{Cancelled: true}, nil
	}
	return fn(prompt)
}

func pickSkill(key string) func(SkillPrompt) (SkillChoice, error) {
	return func(SkillPrompt) (SkillChoice, error) {
		return SkillChoice{SkillKey: key}, nil
	}
}

func pickFacts(ids ...models.FactID) func(FactPrompt) (FactChoice, error) {
	return func(FactPrompt) (FactChoice, error) {
		return FactChoice{Facts: ids}, nil
	}
}
