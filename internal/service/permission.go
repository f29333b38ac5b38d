package service

import (
	"advanced_survey_backend/internal/util"
	"sync"
)

// ResultsPermission 判断谁能查看结果和导出。
// 课程教职人员总是可以；额外的用户组来自配置，支持热更新。
type ResultsPermission struct {
	mu          sync.RWMutex
	extraGroups map[string]struct{}
}

func NewResultsPermission(groups []string) *ResultsPermission {
	p := &ResultsPermission{}
	p.SetExtraViewGroups(groups)
	return p
}

func (p *ResultsPermission) SetExtraViewGroups(groups []string) {
	set := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g != "" {
			set[g] = struct{}{}
		}
	}

	p.mu.Lock()
	p.extraGroups = set
	p.mu.Unlock()
}

func (p *ResultsPermission) CanViewResults(user *util.Claims) bool {
	if user == nil {
		return false
	}
	if user.Role.IsStaff() {
		return true
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, g := range user.Groups {
		if _, ok := p.extraGroups[g]; ok {
			return true
		}
	}
	return false
}
