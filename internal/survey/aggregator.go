package survey

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

var identityColumns = []string{"user_id", "username", "user_email"}

// LearnerRecord 导出时读取的单条学员状态
type LearnerRecord struct {
	UserID   uint
	Username string
	Email    string
	Answers  AnswerMap
	Modified time.Time
}

// Issue 导出时无法解析的答案，不中断整个导出
type Issue struct {
	UserID uint
	Key    string
	Value  string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("user %d: %s=%q: %s", i.UserID, i.Key, i.Value, i.Reason)
}

// Table 表头 + 每个学员一行
type Table struct {
	Header []string
	Rows   [][]string
}

// BuildHeader 生成表头。带 header 的题目会更新前缀，之后的题目沿用该前缀直到出现新的 header。
func BuildHeader(schema Schema) []string {
	header := append([]string(nil), identityColumns...)
	currentPrefix := ""
	for _, q := range schema {
		if h := q.SectionHeader(); h != "" {
			currentPrefix = h + ": "
		}
		switch q := q.(type) {
		case *RateQuestion:
			for _, p := range q.Prompts {
				header = append(header, currentPrefix+p.Label)
			}
		case *FreeQuestion:
			header = append(header, currentPrefix+q.Prompt)
		}
	}
	return header
}

// Aggregate 按修改时间倒序遍历记录，每个学员只取第一条有答案的记录。
// onIssue 可为 nil。
func Aggregate(schema Schema, records []LearnerRecord, onIssue func(Issue)) Table {
	sorted := make([]LearnerRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Modified.After(sorted[j].Modified)
	})

	table := Table{Header: BuildHeader(schema)}
	seen := make(map[uint]bool)
	for _, rec := range sorted {
		if seen[rec.UserID] || len(rec.Answers) == 0 {
			continue
		}
		seen[rec.UserID] = true
		table.Rows = append(table.Rows, buildRow(schema, rec, onIssue))
	}
	return table
}

func buildRow(schema Schema, rec LearnerRecord, onIssue func(Issue)) []string {
	row := []string{strconv.FormatUint(uint64(rec.UserID), 10), rec.Username, rec.Email}
	for _, q := range schema {
		switch q := q.(type) {
		case *RateQuestion:
			for _, p := range q.Prompts {
				key := RateKey(q.ID, p.ID)
				token, ok := rec.Answers[key]
				if !ok {
					row = append(row, "")
					continue
				}
				label, reason := resolveOption(q, token)
				if reason != "" && onIssue != nil {
					onIssue(Issue{UserID: rec.UserID, Key: key, Value: token, Reason: reason})
				}
				row = append(row, label)
			}
		case *FreeQuestion:
			row = append(row, rec.Answers[FreeKey(q.ID)])
		}
	}
	return row
}

func resolveOption(q *RateQuestion, token string) (string, string) {
	raw, ok := strings.CutPrefix(token, "o-")
	if !ok {
		return "", "not an option token"
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return "", "not an option token"
	}
	label, ok := q.OptionLabel(id)
	if !ok {
		return "", "unknown option id"
	}
	return label, ""
}

// WriteCSV 写出表头和所有行
func WriteCSV(w io.Writer, table Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename 导出文件名，使用 UTC 时间
func ExportFilename(t time.Time) string {
	return "advancedsurvey-data-export-" + t.UTC().Format("2006-01-02-150405") + ".csv"
}
