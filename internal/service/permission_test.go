package service

import (
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/util"
	"testing"
)

func TestResultsPermission(t *testing.T) {
	p := NewResultsPermission([]string{"beta_testers"})

	cases := []struct {
		name string
		user *util.Claims
		want bool
	}{
		{"anonymous", nil, false},
		{"student", &util.Claims{Role: model.Student}, false},
		{"teacher", &util.Claims{Role: model.Teacher}, true},
		{"admin", &util.Claims{Role: model.Admin}, true},
		{"student in extra group", &util.Claims{Role: model.Student, Groups: []string{"x", "beta_testers"}}, true},
	}
	for _, tc := range cases {
		if got := p.CanViewResults(tc.user); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	// 配置热更新后旧分组失效
	p.SetExtraViewGroups(nil)
	if p.CanViewResults(&util.Claims{Role: model.Student, Groups: []string{"beta_testers"}}) {
		t.Fatalf("group should be revoked after reload")
	}
}
