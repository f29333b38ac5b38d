package service

import (
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/survey"
	"advanced_survey_backend/internal/util"
	"advanced_survey_backend/pkg/logger"
	"advanced_survey_backend/pkg/tracing"
	"bytes"
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ExportResult 导出记录上保存的最近一次结果，Error 非空表示失败
// swagger:model ExportResult
type ExportResult struct {
	Error           *string `json:"error"`
	ReportFilename  string  `json:"reportFilename,omitempty"`
	DisplayName     string  `json:"displayName,omitempty"`
	RowCount        int     `json:"rowCount,omitempty"`
	StartTimestamp  float64 `json:"startTimestamp,omitempty"`
	GenerationTimeS float64 `json:"generationTimeS,omitempty"`
}

func failedResult(msg string) *ExportResult {
	return &ExportResult{Error: &msg}
}

// Failed 是否为失败结果
func (r *ExportResult) Failed() bool {
	return r.Error != nil
}

// ExportJob 一次导出任务的实际工作
type ExportJob interface {
	Run(ctx context.Context, surveyID uint) (*ExportResult, error)
}

// ReportKey 报表在存储中的路径，按问卷分目录
func ReportKey(surveyID uint, filename string) string {
	return fmt.Sprintf("advancedsurvey/%d/%s", surveyID, filename)
}

// CSVExportJob 汇总学员答案，生成 CSV 并上传
type CSVExportJob struct {
	Surveys SurveyStore
	States  LearnerStateStore
	Storage *StorageService
	Now     func() time.Time
}

func NewCSVExportJob(surveys SurveyStore, states LearnerStateStore, storage *StorageService) *CSVExportJob {
	return &CSVExportJob{Surveys: surveys, States: states, Storage: storage, Now: time.Now}
}

func (j *CSVExportJob) Run(ctx context.Context, surveyID uint) (*ExportResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "survey.export")
	defer span.End()
	span.SetAttributes(attribute.Int64("survey.id", int64(surveyID)))

	res, err := j.run(ctx, surveyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("export.rows", res.RowCount))
	return res, nil
}

func (j *CSVExportJob) run(ctx context.Context, surveyID uint) (*ExportResult, error) {
	start := j.Now()
	log := logger.Survey(surveyID)

	sv, err := j.Surveys.FindByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, util.ErrSurveyNotFound
	}
	schema, err := survey.ParseSchema(sv.Questions)
	if err != nil {
		return nil, err
	}

	states, err := j.States.ListForExport(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("load learner states: %w", err)
	}

	table := survey.Aggregate(schema, toLearnerRecords(states), func(issue survey.Issue) {
		log.Warn("unresolvable answer in export", zap.String("issue", issue.String()))
	})

	var buf bytes.Buffer
	if err := survey.WriteCSV(&buf, table); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	filename := survey.ExportFilename(start)
	if err := j.Storage.Upload(ctx, ReportKey(surveyID, filename), &buf, int64(buf.Len()), util.MimeCSV); err != nil {
		return nil, fmt.Errorf("upload report: %w", err)
	}

	elapsed := j.Now().Sub(start)
	log.Info("survey export finished",
		zap.String("file", filename),
		zap.Int("rows", len(table.Rows)),
		zap.Duration("elapsed", elapsed),
	)
	return &ExportResult{
		ReportFilename:  filename,
		DisplayName:     sv.DisplayName,
		RowCount:        len(table.Rows),
		StartTimestamp:  float64(start.UnixNano()) / float64(time.Second),
		GenerationTimeS: elapsed.Seconds(),
	}, nil
}

func toLearnerRecords(states []model.SurveyLearnerState) []survey.LearnerRecord {
	records := make([]survey.LearnerRecord, 0, len(states))
	for _, st := range states {
		rec := survey.LearnerRecord{
			UserID:   st.UserID,
			Answers:  decodeAnswers(st.Answers),
			Modified: st.UpdatedAt,
		}
		if st.User != nil {
			rec.Username = st.User.Username
			rec.Email = st.User.Email
		}
		records = append(records, rec)
	}
	return records
}
