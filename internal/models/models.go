package models

import (
	"encoding/json"
	"time"
)

// 熟练等级
const (
	RankUntrained = 0
	RankTrained   = 1
	RankExpert    = 2
	RankMaster    = 3
	RankLegendary = 4
)

// Skill 技能条目（键、熟练等级、调整值）
type Skill struct {
	Key      string `json:"key"`
	Label    string `json:"label,omitempty"`
	Rank     int    `json:"rank"`
	Modifier int    `json:"modifier"`
	Base     int    `json:"base,omitempty"` // 怪物数据块中的基础值
}

// Feature 角色拥有的专长/特性/动作
type Feature struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug,omitempty"`
	Type        string   `json:"type"` // feat, feature, action, melee
	Traits      []string `json:"traits,omitempty"`
	ActionType  string   `json:"action_type,omitempty"` // action, reaction, free, attack
	RollOptions []string `json:"roll_options,omitempty"`
}

// Effect 生效中的效果（法术、状态等）
type Effect struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// Save 豁免
type Save struct {
	Key      string `json:"key"`
	Label    string `json:"label,omitempty"`
	Modifier int    `json:"modifier"`
}

// Defense 抗性/弱点/免疫条目
type Defense struct {
	Type       string   `json:"type"`
	Value      int      `json:"value,omitempty"`
	Exceptions []string `json:"exceptions,omitempty"`
}

// Strike 打击
type Strike struct {
	Name   string   `json:"name"`
	Bonus  *int     `json:"bonus,omitempty"`
	Damage []string `json:"damage,omitempty"`
}

// Actor 角色或生物（目标与行动者同一结构）
type Actor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"` // character, npc
	Level       int       `json:"level"`
	Skills      []Skill   `json:"skills"`
	Features    []Feature `json:"features"`
	Effects     []Effect  `json:"effects"`
	Traits      []string  `json:"traits"`
	Saves       []Save    `json:"saves"`
	Resistances []Defense `json:"resistances"`
	Weaknesses  []Defense `json:"weaknesses"`
	Immunities  []Defense `json:"immunities"`
	Strikes     []Strike  `json:"strikes"`
	PublicNotes string    `json:"public_notes,omitempty"`
	Biography   string    `json:"biography,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User 宿主中的用户
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IsGM bool   `json:"is_gm"`
}

// KnowledgeSkill 本次调用可用的知识技能
type KnowledgeSkill struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Modifier int    `json:"modifier"`
	IsLore   bool   `json:"is_lore"`
}

// Degree 成功度
type Degree string

const (
	CriticalFailure Degree = "criticalFailure"
	Failure         Degree = "failure"
	Success         Degree = "success"
	CriticalSuccess Degree = "criticalSuccess"
)

// IsSuccess 成功或大成功
func (d Degree) IsSuccess() bool {
	return d == Success || d == CriticalSuccess
}

// CheckResult 检定结果
type CheckResult struct {
	Total         int            `json:"total"`
	Die           int            `json:"die,omitempty"` // 保证（Assurance）时为0
	Modifier      int            `json:"modifier"`
	Bonus         int            `json:"bonus,omitempty"` // 情境加值，如详尽报告
	DC            int            `json:"dc"`
	Degree        Degree         `json:"degree"`
	Skill         KnowledgeSkill `json:"skill"`
	UsedAssurance bool           `json:"used_assurance"`
}

// Margin 超出DC的差值
func (r CheckResult) Margin() int {
	return r.Total - r.DC
}

// FactID 可揭示的信息种类
type FactID string

const (
	FactHighestSave      FactID = "highest-save"
	FactLowestSave       FactID = "lowest-save"
	FactResistances      FactID = "resistances"
	FactWeaknesses       FactID = "weaknesses"
	FactImmunities       FactID = "immunities"
	FactAttacks          FactID = "attacks"
	FactSkills           FactID = "skills"
	FactBackground       FactID = "background"
	FactSpecialAttacks   FactID = "special-attacks"
	FactSpecialAbilities FactID = "special-abilities"
)

// AllFacts 全部信息种类
var AllFacts = []FactID{
	FactHighestSave, FactLowestSave, FactResistances, FactWeaknesses, FactImmunities,
	FactAttacks, FactSkills, FactBackground, FactSpecialAttacks, FactSpecialAbilities,
}

// DefaultRevealableFacts 默认选择菜单
var DefaultRevealableFacts = []FactID{
	FactHighestSave, FactLowestSave, FactResistances, FactWeaknesses, FactImmunities,
	FactAttacks, FactSkills, FactBackground,
}

var factLabels = map[FactID]string{
	FactHighestSave:      "Highest Save",
	FactLowestSave:       "Lowest Save",
	FactResistances:      "Resistances",
	FactWeaknesses:       "Weaknesses",
	FactImmunities:       "Immunities",
	FactAttacks:          "Attacks",
	FactSkills:           "Skills",
	FactBackground:       "Background",
	FactSpecialAttacks:   "Special Attacks",
	FactSpecialAbilities: "Special Abilities",
}

// Label 显示名称，未知ID原样返回
func (f FactID) Label() string {
	if label, ok := factLabels[f]; ok {
		return label
	}
	return string(f)
}

// Valid 是否为已知信息种类
func (f FactID) Valid() bool {
	_, ok := factLabels[f]
	return ok
}

// FactSet 有序且无重复的信息集合
type FactSet []FactID

// Has 是否包含
func (s FactSet) Has(id FactID) bool {
	for _, f := range s {
		if f == id {
			return true
		}
	}
	return false
}

// Merge 并集，保留原有顺序
func (s FactSet) Merge(ids ...FactID) FactSet {
	out := make(FactSet, 0, len(s)+len(ids))
	for _, id := range append(append([]FactID{}, s...), ids...) {
		if id == "" || out.Has(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Fact 一条已格式化的信息
type Fact struct {
	ID    FactID `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// BudgetSource 信息数量来源
type BudgetSource struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	Bonus bool   `json:"bonus,omitempty"`
}

// InformationBudget 可揭示的信息数量
type InformationBudget struct {
	Total     int            `json:"total"`
	Sources   []BudgetSource `json:"sources"`
	FalseInfo bool           `json:"false_info,omitempty"`
}

// PendingApprovalRequest 等待GM批准的请求
type PendingApprovalRequest struct {
	RequestID       string           `json:"request_id"`
	UserID          string           `json:"user_id"`
	UserName        string           `json:"user_name"`
	ActorID         string           `json:"actor_id"`
	ActorName       string           `json:"actor_name"`
	TargetID        string           `json:"target_id"`
	TargetName      string           `json:"target_name"`
	Skills          []KnowledgeSkill `json:"skills"`
	CurrentAttempts int              `json:"current_attempts"`
	BaseDC          int              `json:"base_dc"`
	CurrentDC       int              `json:"current_dc"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ApprovalResponse GM的答复
type ApprovalResponse struct {
	RequestID        string `json:"request_id"`
	GMID             string `json:"gm_id,omitempty"`
	Approved         bool   `json:"approved"`
	AdjustedAttempts *int   `json:"adjusted_attempts,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// 消息类型
const (
	MsgGMApprovalRequest  = "GM_APPROVAL_REQUEST"
	MsgGMApprovalResponse = "GM_APPROVAL_RESPONSE"
	MsgRecallResult       = "RECALL_KNOWLEDGE_RESULT"
	MsgRecallDenied       = "RECALL_KNOWLEDGE_DENIED"
	MsgDisclosure         = "RECALL_KNOWLEDGE_DISCLOSURE"
	MsgNotify             = "NOTIFY"
	MsgPrompt             = "PROMPT"
	MsgPromptReply        = "PROMPT_REPLY"
)

// Message 消息通道上的信封
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	From      string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Config 配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	LLM      LLMConfig      `yaml:"llm"`
	Recall   RecallConfig   `yaml:"recall"`
}

type ServerConfig struct {
	Port string `yaml:"port" envconfig:"PORT"`
	Host string `yaml:"host" envconfig:"HOST"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver" envconfig:"DB_DRIVER"` // sqlite, redis
	Path      string `yaml:"path" envconfig:"DB_PATH"`
	RedisAddr string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" envconfig:"REDIS_DB"`
}

type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	Encoding   string `yaml:"encoding" envconfig:"LOG_ENCODING"`
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT"`
}

type LLMConfig struct {
	Enabled     bool    `yaml:"enabled" envconfig:"LLM_ENABLED"`
	APIKey      string  `yaml:"api_key" envconfig:"LLM_API_KEY"`
	APIBase     string  `yaml:"api_base" envconfig:"LLM_API_BASE"`
	Model       string  `yaml:"model" envconfig:"LLM_MODEL"`
	Temperature float32 `yaml:"temperature" envconfig:"LLM_TEMPERATURE"`
	MaxTokens   int     `yaml:"max_tokens" envconfig:"LLM_MAX_TOKENS"`
}

// RecallConfig 规则开关（对应宿主中的世界设置）
type RecallConfig struct {
	RequireGMApproval   bool          `yaml:"require_gm_approval" envconfig:"REQUIRE_GM_APPROVAL"`
	AutoCalculateDC     bool          `yaml:"auto_calculate_dc" envconfig:"AUTO_CALCULATE_DC"`
	HideRollFromPlayer  bool          `yaml:"hide_roll_from_player" envconfig:"HIDE_ROLL_FROM_PLAYER"`
	FalseInfoOnCritFail bool          `yaml:"false_info_on_crit_fail" envconfig:"FALSE_INFO_ON_CRIT_FAIL"`
	ShareWithParty      bool          `yaml:"share_with_party" envconfig:"SHARE_WITH_PARTY"`
	RevealableFacts     []FactID      `yaml:"revealable_facts" envconfig:"REVEALABLE_FACTS"`
	ApprovalTimeout     time.Duration `yaml:"approval_timeout" envconfig:"APPROVAL_TIMEOUT"`
	PromptTimeout       time.Duration `yaml:"prompt_timeout" envconfig:"PROMPT_TIMEOUT"`
}

// DefaultRecallConfig 宿主默认设置
func DefaultRecallConfig() RecallConfig {
	return RecallConfig{
		RequireGMApproval: true,
		AutoCalculateDC:   true,
		RevealableFacts:   append([]FactID{}, DefaultRevealableFacts...),
		ApprovalTimeout:   2 * time.Minute,
		PromptTimeout:     5 * time.Minute,
	}
}
