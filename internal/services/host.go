package services

import (
	"context"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// ActorDirectory 宿主的角色与生物数据；不存在时返回 nil, nil
type ActorDirectory interface {
	Actor(ctx context.Context, id string) (*models.Actor, error)
	Actors(ctx context.Context) ([]models.Actor, error)
	PartyMembers(ctx context.Context) ([]models.Actor, error)
}

// UserDirectory 宿主用户；不存在时返回 nil, nil
type UserDirectory interface {
	User(ctx context.Context, id string) (*models.User, error)
	GMs(ctx context.Context) ([]models.User, error)
}

// SkillPrompt 技能选择对话框
type SkillPrompt struct {
	UserID      string                  `json:"user_id"`
	ActorName   string                  `json:"actor_name"`
	TargetName  string                  `json:"target_name"`
	Skills      []models.KnowledgeSkill `json:"skills"`
	Appropriate []string                `json:"appropriate"`
	Assurance   map[string]int          `json:"assurance,omitempty"` // 技能 -> 保证值
	DC          int                     `json:"dc"`
	Attempts    int                     `json:"attempts"`
}

// SkillChoice 技能选择结果
type SkillChoice struct {
	SkillKey     string `json:"skill_key"`
	UseAssurance bool   `json:"use_assurance,omitempty"`
	Cancelled    bool   `json:"cancelled,omitempty"`
}

// FactPrompt 信息选择对话框
type FactPrompt struct {
	UserID       string                   `json:"user_id"`
	ActorName    string                   `json:"actor_name"`
	TargetName   string                   `json:"target_name"`
	Budget       models.InformationBudget `json:"budget"`
	SourceLines  []string                 `json:"source_lines"`
	Selectable   []models.Fact            `json:"selectable"` // 只含ID与标签
	AlreadyKnown []models.Fact            `json:"already_known"`
}

// FactChoice 信息选择结果
type FactChoice struct {
	Facts     []models.FactID `json:"facts"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// TargetOption 可选目标
type TargetOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DiversePrompt 多样识别对话框
type DiversePrompt struct {
	UserID         string         `json:"user_id"`
	ActorName      string         `json:"actor_name"`
	PreviousTarget string         `json:"previous_target"`
	SkillLabel     string         `json:"skill_label"`
	Targets        []TargetOption `json:"targets"`
}

// TargetChoice 多样识别的目标；拒绝与关闭都为 Cancelled
type TargetChoice struct {
	TargetID  string `json:"target_id"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Prompter 与用户交互的挂起点
type Prompter interface {
	ChooseSkill(ctx context.Context, prompt SkillPrompt) (SkillChoice, error)
	ChooseFacts(ctx context.Context, prompt FactPrompt) (FactChoice, error)
	OfferDiverseRecognition(ctx context.Context, prompt DiversePrompt) (TargetChoice, error)
}

// NoticeLevel 通知级别
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// CheckAnnouncement 检定结果消息；Public 为 false 时只发给 Recipients
type CheckAnnouncement struct {
	ActorName   string                   `json:"actor_name"`
	TargetName  string                   `json:"target_name"`
	Result      models.CheckResult       `json:"result"`
	Budget      models.InformationBudget `json:"budget"`
	SourceLines []string                 `json:"source_lines"`
	Attempt     int                      `json:"attempt"`
	Public      bool                     `json:"public"`
	Recipients  []string                 `json:"-"`
}

// Disclosure 揭示的信息；真假信息结构相同
type Disclosure struct {
	ActorName  string        `json:"actor_name"`
	TargetName string        `json:"target_name"`
	Facts      []models.Fact `json:"facts"`
	Public     bool          `json:"public"`
	Recipients []string      `json:"-"`
}

// Announcer 结果输出
type Announcer interface {
	Notify(ctx context.Context, userID string, level NoticeLevel, message string) error
	AnnounceCheck(ctx context.Context, a CheckAnnouncement) error
	Disclose(ctx context.Context, d Disclosure) error
}
