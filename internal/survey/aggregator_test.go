package survey

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func TestBuildHeaderRunningPrefix(t *testing.T) {
	schema := MustParseSchema(`[
		{"question_id": 0, "type": "free", "prompt": "Before"},
		{"question_id": 1, "type": "rate", "header": "Instructor", "prompts": [[0, "Clear"]], "options": [[0, "Yes"]]},
		{"question_id": 2, "type": "free", "prompt": "Examples"},
		{"question_id": 3, "type": "free", "header": "Other", "prompt": "More"}
	]`)
	want := []string{"user_id", "username", "user_email", "Before", "Instructor: Clear", "Instructor: Examples", "Other: More"}
	got := BuildHeader(schema)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("header mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestAggregate(t *testing.T) {
	schema := MustParseSchema(`[
		{"question_id": 0, "type": "rate", "prompts": [[0, "Useful"], [1, "Structured"]],
		 "options": [[0, "Good"], [1, "Okay"], [2, "Bad"]]},
		{"question_id": 1, "type": "free", "prompt": "Liked?"}
	]`)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []LearnerRecord{
		{UserID: 2, Username: "bob", Email: "bob@x", Modified: now.Add(-time.Hour),
			Answers: AnswerMap{"q-0-p-0": "o-1", "q-0-p-1": "o-2", "q-1": "ok", "q-2": "long"}},
		{UserID: 1, Username: "ann", Email: "ann@x", Modified: now,
			Answers: AnswerMap{"q-0-p-0": "o-0", "q-0-p-1": "o-0", "q-1": "nice"}},
		{UserID: 3, Username: "cid", Email: "cid@x", Modified: now.Add(time.Hour)},
		{UserID: 1, Username: "ann", Email: "ann@x", Modified: now.Add(-2 * time.Hour),
			Answers: AnswerMap{"q-0-p-0": "o-2", "q-0-p-1": "o-2", "q-1": "older"}},
	}

	table := Aggregate(schema, records, nil)
	if len(table.Header) != 6 {
		t.Fatalf("want 6 header columns, got %d: %v", len(table.Header), table.Header)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("want 2 rows, got %d: %v", len(table.Rows), table.Rows)
	}
	wantAnn := "1|ann|ann@x|Good|Good|nice"
	if got := strings.Join(table.Rows[0], "|"); got != wantAnn {
		t.Fatalf("row 0: want %s, got %s", wantAnn, got)
	}
	wantBob := "2|bob|bob@x|Okay|Bad|ok"
	if got := strings.Join(table.Rows[1], "|"); got != wantBob {
		t.Fatalf("row 1: want %s, got %s", wantBob, got)
	}
}

func TestAggregateUnknownOption(t *testing.T) {
	schema := testSchema()
	records := []LearnerRecord{{UserID: 9, Username: "u", Email: "e",
		Answers: AnswerMap{"q-0-p-0": "o-7", "q-0-p-1": "garbage", "q-1": "x"}}}

	var issues []Issue
	table := Aggregate(schema, records, func(i Issue) { issues = append(issues, i) })
	if len(issues) != 2 {
		t.Fatalf("want 2 issues, got %v", issues)
	}
	row := table.Rows[0]
	if len(row) != len(table.Header) {
		t.Fatalf("row should stay aligned with header: %v", row)
	}
	if row[3] != "" || row[4] != "" {
		t.Fatalf("unresolvable cells should be empty: %v", row)
	}
	if issues[0].Reason != "unknown option id" || issues[1].Reason != "not an option token" {
		t.Fatalf("unexpected reasons: %v", issues)
	}
}

func TestWriteCSV(t *testing.T) {
	table := Table{
		Header: []string{"user_id", "username", "user_email", "Q"},
		Rows:   [][]string{{"1", "ann", "ann@x", "has, comma"}},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("write: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 2 || recs[1][3] != "has, comma" {
		t.Fatalf("unexpected records: %v", recs)
	}
}

func TestExportFilename(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2024, 3, 9, 8, 5, 7, 0, loc)
	if got := ExportFilename(ts); got != "advancedsurvey-data-export-2024-03-09-000507.csv" {
		t.Fatalf("unexpected filename %s", got)
	}
}
