package repository

import (
	"advanced_survey_backend/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
)

type SurveyRepository struct {
	DB *gorm.DB
}

func NewSurveyRepository(db *gorm.DB) *SurveyRepository {
	return &SurveyRepository{DB: db}
}

func (r *SurveyRepository) Create(ctx context.Context, s *model.Survey) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

// FindByID 没有记录时返回 nil, nil
func (r *SurveyRepository) FindByID(ctx context.Context, id uint) (*model.Survey, error) {
	var s model.Survey
	err := r.DB.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings 整体替换作者可编辑的字段
func (r *SurveyRepository) UpdateSettings(ctx context.Context, s *model.Survey) error {
	return r.DB.WithContext(ctx).Model(&model.Survey{}).
		Where("id = ?", s.ID).
		Select("questions", "feedback", "max_submissions", "block_name").
		Updates(map[string]interface{}{
			"questions":       s.Questions,
			"feedback":        s.Feedback,
			"max_submissions": s.MaxSubmissions,
			"block_name":      s.BlockName,
		}).Error
}
