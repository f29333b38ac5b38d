package survey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Schema 问卷定义，题目按顺序排列
type Schema []Question

// SchemaError 问卷定义不合法
type SchemaError struct {
	Index int
	Msg   string
}

func (e *SchemaError) Error() string {
	if e.Index < 0 {
		return "invalid questions: " + e.Msg
	}
	return fmt.Sprintf("invalid questions: question #%d: %s", e.Index+1, e.Msg)
}

func schemaErr(index int, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Index: index, Msg: fmt.Sprintf(format, args...)}
}

// questionDoc 作者可编辑文本中单个题目的结构
type questionDoc struct {
	QuestionID *int   `json:"question_id"`
	Type       Kind   `json:"type"`
	Header     string `json:"header,omitempty"`
	Prompts    []Pair `json:"prompts,omitempty"`
	Options    []Pair `json:"options,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Required   bool   `json:"required,omitempty"`
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.ID, p.Label})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected [id, label]: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("expected [id, label], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Label); err != nil {
		return fmt.Errorf("label must be a string: %w", err)
	}
	return nil
}

// ParseSchema 解析作者提交的问卷文本（JSON 数组），失败时返回 *SchemaError
func ParseSchema(text string) (Schema, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, schemaErr(-1, "no questions")
	}

	var docs []questionDoc
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&docs); err != nil {
		return nil, schemaErr(-1, "%v", err)
	}
	if dec.More() {
		return nil, schemaErr(-1, "unexpected data after questions")
	}
	if len(docs) == 0 {
		return nil, schemaErr(-1, "no questions")
	}

	schema := make(Schema, 0, len(docs))
	for i, d := range docs {
		if d.QuestionID == nil {
			return nil, schemaErr(i, "missing question_id")
		}
		switch d.Type {
		case KindRate:
			schema = append(schema, &RateQuestion{
				ID:      *d.QuestionID,
				Header:  d.Header,
				Prompts: d.Prompts,
				Options: d.Options,
			})
		case KindFree:
			schema = append(schema, &FreeQuestion{
				ID:       *d.QuestionID,
				Header:   d.Header,
				Prompt:   d.Prompt,
				Required: d.Required,
			})
		default:
			return nil, schemaErr(i, "unknown type %q", d.Type)
		}
	}

	if err := schema.Check(); err != nil {
		return nil, err
	}
	return schema, nil
}

// Check 校验 id 唯一性等不变量
func (s Schema) Check() error {
	seen := make(map[int]bool, len(s))
	for i, q := range s {
		if seen[q.QuestionID()] {
			return schemaErr(i, "duplicate question_id %d", q.QuestionID())
		}
		seen[q.QuestionID()] = true

		switch q := q.(type) {
		case *RateQuestion:
			if len(q.Prompts) == 0 {
				return schemaErr(i, "rate question needs at least one prompt")
			}
			if len(q.Options) == 0 {
				return schemaErr(i, "rate question needs at least one option")
			}
			if id, dup := duplicateID(q.Prompts); dup {
				return schemaErr(i, "duplicate prompt id %d", id)
			}
			if id, dup := duplicateID(q.Options); dup {
				return schemaErr(i, "duplicate option id %d", id)
			}
		case *FreeQuestion:
			if strings.TrimSpace(q.Prompt) == "" {
				return schemaErr(i, "free question needs a prompt")
			}
		default:
			return schemaErr(i, "unsupported question %T", q)
		}
	}
	return nil
}

func duplicateID(pairs []Pair) (int, bool) {
	seen := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		if seen[p.ID] {
			return p.ID, true
		}
		seen[p.ID] = true
	}
	return 0, false
}

func (s Schema) docs() ([]questionDoc, error) {
	docs := make([]questionDoc, 0, len(s))
	for _, q := range s {
		id := q.QuestionID()
		switch q := q.(type) {
		case *RateQuestion:
			docs = append(docs, questionDoc{
				QuestionID: &id,
				Type:       KindRate,
				Header:     q.Header,
				Prompts:    q.Prompts,
				Options:    q.Options,
			})
		case *FreeQuestion:
			docs = append(docs, questionDoc{
				QuestionID: &id,
				Type:       KindFree,
				Header:     q.Header,
				Prompt:     q.Prompt,
				Required:   q.Required,
			})
		default:
			return nil, fmt.Errorf("unsupported question %T", q)
		}
	}
	return docs, nil
}

// MarshalJSON 与作者文本使用同一种结构
func (s Schema) MarshalJSON() ([]byte, error) {
	docs, err := s.docs()
	if err != nil {
		return nil, err
	}
	return json.Marshal(docs)
}

// Text 序列化为作者可编辑的文本，ParseSchema 可原样解析回来
func (s Schema) Text() (string, error) {
	docs, err := s.docs()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// MustParseSchema 用于内置默认问卷
func MustParseSchema(text string) Schema {
	s, err := ParseSchema(text)
	if err != nil {
		panic(err)
	}
	return s
}
