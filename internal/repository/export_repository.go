package repository

import (
	"advanced_survey_backend/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExportRepository struct {
	DB *gorm.DB
}

func NewExportRepository(db *gorm.DB) *ExportRepository {
	return &ExportRepository{DB: db}
}

// UpdateRecord 锁定问卷的导出记录（不存在则先创建），fn 返回 true 时写回
func (r *ExportRepository) UpdateRecord(ctx context.Context, surveyID uint, fn func(rec *model.SurveyExportRecord) (bool, error)) (*model.SurveyExportRecord, error) {
	var rec model.SurveyExportRecord
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.SurveyExportRecord{SurveyID: surveyID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("survey_id = ?", surveyID).
			First(&rec).Error; err != nil {
			return err
		}

		changed, err := fn(&rec)
		if err != nil || !changed {
			return err
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ExportRepository) CreateTask(ctx context.Context, task *model.SurveyExportTask) error {
	return r.DB.WithContext(ctx).Create(task).Error
}

// FindTask 没有记录时返回 nil, nil
func (r *ExportRepository) FindTask(ctx context.Context, id string) (*model.SurveyExportTask, error) {
	var task model.SurveyExportTask
	err := r.DB.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *ExportRepository) SaveTask(ctx context.Context, task *model.SurveyExportTask) error {
	return r.DB.WithContext(ctx).Save(task).Error
}

// FailUnfinishedTasks 进程重启后，之前未完成的任务不会再执行
func (r *ExportRepository) FailUnfinishedTasks(ctx context.Context, reason string) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.SurveyExportTask{}).
		Where("status IN ?", []string{model.ExportTaskPending, model.ExportTaskRunning}).
		Updates(map[string]interface{}{"status": model.ExportTaskFailure, "error": reason})
	return res.RowsAffected, res.Error
}
