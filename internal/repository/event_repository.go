package repository

import (
	"advanced_survey_backend/internal/model"
	"context"

	"gorm.io/gorm"
)

type EventRepository struct {
	DB *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{DB: db}
}

func (r *EventRepository) Create(ctx context.Context, e *model.SurveyEvent) error {
	return r.DB.WithContext(ctx).Create(e).Error
}

func (r *EventRepository) ListBySurvey(ctx context.Context, surveyID uint, name string, limit int) ([]model.SurveyEvent, error) {
	var events []model.SurveyEvent
	query := r.DB.WithContext(ctx).Where("survey_id = ?", surveyID)
	if name != "" {
		query = query.Where("name = ?", name)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at desc").Find(&events).Error
	return events, err
}
