package service

import (
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/util"
	"advanced_survey_backend/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ExportRecordStore interface {
	UpdateRecord(ctx context.Context, surveyID uint, fn func(rec *model.SurveyExportRecord) (bool, error)) (*model.SurveyExportRecord, error)
}

type ReportLocator interface {
	URLFor(ctx context.Context, key string) (string, error)
}

// ExportStatus 导出状态，所有有权限的查看者看到同一份
// swagger:model ExportStatus
type ExportStatus struct {
	ExportPending    bool          `json:"exportPending"`
	LastExportResult *ExportResult `json:"lastExportResult"`
	DownloadURL      *string       `json:"downloadUrl"`
}

// ExportService 每个问卷最多一个进行中的导出任务
type ExportService struct {
	Records ExportRecordStore
	Runner  ExportRunner
	Locator ReportLocator
}

func NewExportService(records ExportRecordStore, runner ExportRunner, locator ReportLocator) *ExportService {
	return &ExportService{Records: records, Runner: runner, Locator: locator}
}

// RequestExport 没有进行中的任务时提交新任务，否则只刷新状态
func (s *ExportService) RequestExport(ctx context.Context, surveyID uint) (*ExportStatus, error) {
	rec, err := s.Records.UpdateRecord(ctx, surveyID, func(rec *model.SurveyExportRecord) (bool, error) {
		if rec.ActiveTaskID != "" {
			return s.checkPending(ctx, rec)
		}

		taskID, outcome, err := s.Runner.Submit(ctx, surveyID)
		if err != nil {
			logger.Survey(surveyID).Error("submit export failed", zap.Error(err))
			return true, setLastResult(rec, failedResult(err.Error()))
		}
		if outcome != nil {
			return true, setLastResult(rec, normalizeOutcome(outcome))
		}
		rec.ActiveTaskID = taskID
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("request export: %w", err)
	}
	return s.status(ctx, surveyID, rec), nil
}

// Status 查询状态，顺带收取已结束任务的结果
func (s *ExportService) Status(ctx context.Context, surveyID uint) (*ExportStatus, error) {
	rec, err := s.Records.UpdateRecord(ctx, surveyID, func(rec *model.SurveyExportRecord) (bool, error) {
		if rec.ActiveTaskID == "" {
			return false, nil
		}
		return s.checkPending(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("export status: %w", err)
	}
	return s.status(ctx, surveyID, rec), nil
}

func (s *ExportService) checkPending(ctx context.Context, rec *model.SurveyExportRecord) (bool, error) {
	outcome, err := s.Runner.Poll(ctx, rec.ActiveTaskID)
	if errors.Is(err, util.ErrExportTaskNotFound) {
		outcome = &JobOutcome{Error: "export task not found"}
	} else if err != nil {
		return false, err
	}
	if outcome == nil {
		return false, nil
	}

	rec.ActiveTaskID = ""
	return true, setLastResult(rec, normalizeOutcome(outcome))
}

func (s *ExportService) status(ctx context.Context, surveyID uint, rec *model.SurveyExportRecord) *ExportStatus {
	st := &ExportStatus{ExportPending: rec.ActiveTaskID != ""}

	last := lastResult(rec)
	if last == nil {
		return st
	}
	st.LastExportResult = last
	if last.Failed() {
		return st
	}

	url, err := s.Locator.URLFor(ctx, ReportKey(surveyID, last.ReportFilename))
	if err != nil {
		logger.Survey(surveyID).Warn("resolve report url failed",
			zap.String("file", last.ReportFilename),
			zap.Error(err),
		)
		return st
	}
	st.DownloadURL = &url
	return st
}

// normalizeOutcome 成功但结构不对的结果也按失败记录
func normalizeOutcome(o *JobOutcome) *ExportResult {
	if !o.Success {
		msg := o.Error
		if msg == "" {
			msg = "export failed"
		}
		return failedResult(msg)
	}

	var res ExportResult
	if err := json.Unmarshal(o.Result, &res); err != nil || res.Failed() || res.ReportFilename == "" {
		return failedResult("Unexpected result: " + string(o.Result))
	}
	return &res
}

func setLastResult(rec *model.SurveyExportRecord, res *ExportResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	rec.LastExportResult = datatypes.JSON(raw)
	return nil
}

func lastResult(rec *model.SurveyExportRecord) *ExportResult {
	if len(rec.LastExportResult) == 0 || string(rec.LastExportResult) == "null" {
		return nil
	}
	var res ExportResult
	if err := json.Unmarshal(rec.LastExportResult, &res); err != nil {
		return failedResult("Unexpected result: " + string(rec.LastExportResult))
	}
	return &res
}
