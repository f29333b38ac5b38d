package survey

import "fmt"

// Kind 题目类型
type Kind string

const (
	KindRate Kind = "rate"
	KindFree Kind = "free"
)

// Pair 题干/选项的 (id, 文本) 对，序列化为 [id, "label"]
type Pair struct {
	ID    int
	Label string
}

// Question 问卷题目，只有 *RateQuestion 和 *FreeQuestion 两种实现
type Question interface {
	QuestionID() int
	Kind() Kind
	SectionHeader() string
	isQuestion()
}

// RateQuestion 量表题：多个题干共用一组有序选项
type RateQuestion struct {
	ID      int
	Header  string
	Prompts []Pair
	Options []Pair
}

func (q *RateQuestion) QuestionID() int       { return q.ID }
func (q *RateQuestion) Kind() Kind            { return KindRate }
func (q *RateQuestion) SectionHeader() string { return q.Header }
func (*RateQuestion) isQuestion()             {}

// OptionLabel 按选项 id 查找选项文本
func (q *RateQuestion) OptionLabel(optionID int) (string, bool) {
	for _, o := range q.Options {
		if o.ID == optionID {
			return o.Label, true
		}
	}
	return "", false
}

// FreeQuestion 开放题
type FreeQuestion struct {
	ID       int
	Header   string
	Prompt   string
	Required bool
}

func (q *FreeQuestion) QuestionID() int       { return q.ID }
func (q *FreeQuestion) Kind() Kind            { return KindFree }
func (q *FreeQuestion) SectionHeader() string { return q.Header }
func (*FreeQuestion) isQuestion()             {}

// RateKey 量表题某个题干的答案键
func RateKey(questionID, promptID int) string {
	return fmt.Sprintf("q-%d-p-%d", questionID, promptID)
}

// FreeKey 开放题的答案键
func FreeKey(questionID int) string {
	return fmt.Sprintf("q-%d", questionID)
}

// OptionToken 选项在答案中的编码
func OptionToken(optionID int) string {
	return fmt.Sprintf("o-%d", optionID)
}
