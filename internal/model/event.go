package model

import "gorm.io/datatypes"

// SurveyEvent 提交日志
// swagger:model SurveyEvent
type SurveyEvent struct {
	BaseModel
	SurveyID uint           `gorm:"index;not null" json:"surveyId"`
	UserID   uint           `gorm:"index;not null" json:"userId"`
	Name     string         `gorm:"size:100;index" json:"name"`
	Payload  datatypes.JSON `gorm:"type:json" json:"payload"`
}

func (SurveyEvent) TableName() string {
	return "survey_events"
}
