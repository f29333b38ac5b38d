package repository

import (
	"advanced_survey_backend/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LearnerStateRepository struct {
	DB *gorm.DB
}

func NewLearnerStateRepository(db *gorm.DB) *LearnerStateRepository {
	return &LearnerStateRepository{DB: db}
}

// Find 没有记录时返回 nil, nil
func (r *LearnerStateRepository) Find(ctx context.Context, surveyID, userID uint) (*model.SurveyLearnerState, error) {
	var st model.SurveyLearnerState
	err := r.DB.WithContext(ctx).
		Where("survey_id = ? AND user_id = ?", surveyID, userID).
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Mutate 在事务中以 SELECT ... FOR UPDATE 读取学员状态，fn 返回 true 时写回。
// 记录不存在时 fn 拿到的是未保存的新记录。
func (r *LearnerStateRepository) Mutate(ctx context.Context, surveyID, userID uint, fn func(st *model.SurveyLearnerState) (bool, error)) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st model.SurveyLearnerState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("survey_id = ? AND user_id = ?", surveyID, userID).
			First(&st).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			st = model.SurveyLearnerState{SurveyID: surveyID, UserID: userID}
		} else if err != nil {
			return err
		}

		changed, err := fn(&st)
		if err != nil || !changed {
			return err
		}
		return tx.Save(&st).Error
	})
}

// ListForExport 该问卷所有学员状态，按修改时间倒序
func (r *LearnerStateRepository) ListForExport(ctx context.Context, surveyID uint) ([]model.SurveyLearnerState, error) {
	var states []model.SurveyLearnerState
	err := r.DB.WithContext(ctx).
		Preload("User").
		Where("survey_id = ?", surveyID).
		Order("updated_at desc").
		Find(&states).Error
	return states, err
}
