package survey

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// NoneToken 前端下拉框未选择时提交的值
	NoneToken = "none"

	MsgIncomplete      = "You did not answer all required questions."
	MsgAlreadyAnswered = "You have already answered this survey."
	MsgQuotaExceeded   = "You have already answered this survey as many times as you are allowed to."
)

// AnswerMap 答案键 -> 答案值
type AnswerMap map[string]string

// FormValue 表单中一道题的提交值：量表题为 题干id -> 选项，开放题为文本
type FormValue struct {
	Text    *string
	Prompts map[string]string
}

// FormData 题目 id（十进制字符串）-> 提交值
type FormData map[string]FormValue

func (v *FormValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		*v = FormValue{}
	case string:
		*v = FormValue{Text: &val}
	case map[string]interface{}:
		prompts := make(map[string]string, len(val))
		for k, pv := range val {
			switch pv := pv.(type) {
			case nil:
			case string:
				prompts[k] = pv
			default:
				return fmt.Errorf("answer for prompt %s must be a string", k)
			}
		}
		*v = FormValue{Prompts: prompts}
	default:
		return fmt.Errorf("unsupported answer value %s", string(data))
	}
	return nil
}

// TextValue 构造开放题提交值
func TextValue(s string) FormValue {
	return FormValue{Text: &s}
}

// RateValue 构造量表题提交值
func RateValue(prompts map[string]string) FormValue {
	return FormValue{Prompts: prompts}
}

func missingRate(v string, ok bool) bool {
	return !ok || v == NoneToken
}

// Validate 判断已存答案相对当前问卷是否完整。
// 量表题每个题干都必须有非 none 的答案，必答开放题必须非空。
func Validate(schema Schema, answers AnswerMap) (AnswerMap, bool) {
	if answers == nil {
		return nil, false
	}
	for _, q := range schema {
		switch q := q.(type) {
		case *RateQuestion:
			for _, p := range q.Prompts {
				v, ok := answers[RateKey(q.ID, p.ID)]
				if missingRate(v, ok) {
					return nil, false
				}
			}
		case *FreeQuestion:
			if q.Required && answers[FreeKey(q.ID)] == "" {
				return nil, false
			}
		}
	}
	return answers, true
}

// Acceptance AcceptSubmission 的结果，Errors 非空时 Answers 为 nil
type Acceptance struct {
	Answers AnswerMap
	Errors  []string
}

func (a Acceptance) OK() bool { return len(a.Errors) == 0 }

// AcceptSubmission 按题目顺序校验提交的表单，遇到第一个缺失的必答项立即返回单条错误。
func AcceptSubmission(schema Schema, form FormData) Acceptance {
	cleaned := make(AnswerMap)
	for _, q := range schema {
		fv := form[strconv.Itoa(q.QuestionID())]
		switch q := q.(type) {
		case *RateQuestion:
			for _, p := range q.Prompts {
				v, ok := fv.Prompts[strconv.Itoa(p.ID)]
				if missingRate(v, ok) {
					return Acceptance{Errors: []string{MsgIncomplete}}
				}
				cleaned[RateKey(q.ID, p.ID)] = v
			}
		case *FreeQuestion:
			text := ""
			if fv.Text != nil {
				text = *fv.Text
			}
			if text == "" && q.Required {
				return Acceptance{Errors: []string{MsgIncomplete}}
			}
			// 选答题留空也记录，提交后的答案不会为空
			cleaned[FreeKey(q.ID)] = text
		}
	}
	return Acceptance{Answers: cleaned}
}
