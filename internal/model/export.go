package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ExportTaskPending = "pending"
	ExportTaskRunning = "running"
	ExportTaskSuccess = "success"
	ExportTaskFailure = "failure"
)

// SurveyExportRecord 每个问卷实例一条，所有查看者共享
// swagger:model SurveyExportRecord
type SurveyExportRecord struct {
	BaseModel
	SurveyID         uint           `gorm:"uniqueIndex;not null" json:"surveyId"`
	ActiveTaskID     string         `gorm:"type:varchar(36)" json:"activeTaskId"`
	LastExportResult datatypes.JSON `gorm:"type:json" json:"lastExportResult"`
}

func (SurveyExportRecord) TableName() string {
	return "survey_export_records"
}

// SurveyExportTask 后台导出任务
// swagger:model SurveyExportTask
type SurveyExportTask struct {
	UUIDBase
	SurveyID   uint           `gorm:"index;not null" json:"surveyId"`
	Status     string         `gorm:"size:20;default:'pending'" json:"status"`
	Result     datatypes.JSON `gorm:"type:json" json:"result"`
	Error      string         `gorm:"type:text" json:"error"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

func (SurveyExportTask) TableName() string {
	return "survey_export_tasks"
}

// Done 任务是否已结束
func (t *SurveyExportTask) Done() bool {
	return t.Status == ExportTaskSuccess || t.Status == ExportTaskFailure
}
