package models

import "strings"

// 以下访问器是宿主数据进入规则逻辑前的唯一归一化层。
// 缺失的数据一律返回零值或固定的后备值，不返回错误。

const noBackground = "No background information available."

// Skill 按键查找技能，忽略大小写
func (a *Actor) Skill(key string) (Skill, bool) {
	if a == nil {
		return Skill{}, false
	}
	for _, s := range a.Skills {
		if strings.EqualFold(s.Key, key) {
			return s, true
		}
	}
	return Skill{}, false
}

// SkillRank 熟练等级，缺失为0
func (a *Actor) SkillRank(key string) int {
	s, _ := a.Skill(key)
	return s.Rank
}

// SkillLabel 技能显示名
func (a *Actor) SkillLabel(key string) string {
	if s, ok := a.Skill(key); ok {
		return s.DisplayLabel()
	}
	return capitalize(key)
}

// DisplayLabel 技能显示名，缺失时由键推导
func (s Skill) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	if strings.Contains(strings.ToLower(s.Key), "lore") {
		return "Lore"
	}
	return capitalize(s.Key)
}

// LowerTraits 特征的小写形式，保持原顺序
func (a *Actor) LowerTraits() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.Traits))
	for _, t := range a.Traits {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// HasTrait 是否具有某特征
func (a *Actor) HasTrait(trait string) bool {
	for _, t := range a.LowerTraits() {
		if t == strings.ToLower(trait) {
			return true
		}
	}
	return false
}

// DisplayName 名称，缺失时为Unknown
func (a *Actor) DisplayName() string {
	if a == nil || a.Name == "" {
		return "Unknown"
	}
	return a.Name
}

// Background 背景文本
func (a *Actor) Background() string {
	if a == nil {
		return noBackground
	}
	if a.PublicNotes != "" {
		return a.PublicNotes
	}
	if a.Biography != "" {
		return a.Biography
	}
	return noBackground
}

// SaveLabel 豁免显示名
func (s Save) SaveLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return capitalize(s.Key)
}

// IsFeat 专长或职业特性
func (f Feature) IsFeat() bool {
	t := strings.ToLower(f.Type)
	return t == "" || t == "feat" || t == "feature"
}

// HasTrait 特性是否带有某特征（子串匹配）
func (f Feature) HasTrait(sub string) bool {
	for _, t := range f.Traits {
		if strings.Contains(strings.ToLower(t), sub) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
