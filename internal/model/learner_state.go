package model

import "gorm.io/datatypes"

// SurveyLearnerState 学员在某个问卷实例上的答案与提交次数
// swagger:model SurveyLearnerState
type SurveyLearnerState struct {
	BaseModel
	SurveyID         uint           `gorm:"uniqueIndex:idx_survey_user;not null" json:"surveyId"`
	UserID           uint           `gorm:"uniqueIndex:idx_survey_user;index;not null" json:"userId"`
	User             *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Answers          datatypes.JSON `gorm:"type:json" json:"answers"`
	SubmissionsCount int            `gorm:"default:0" json:"submissionsCount"`
}

func (SurveyLearnerState) TableName() string {
	return "survey_learner_states"
}
