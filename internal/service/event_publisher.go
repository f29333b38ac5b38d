package service

import (
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/pkg/logger"
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SurveyEventMessage 提交成功后发出的事件
type SurveyEventMessage struct {
	SurveyID uint
	UserID   uint
	Name     string
	Payload  map[string]interface{}
}

type EventPublisher interface {
	Publish(ctx context.Context, ev SurveyEventMessage) error
}

type EventStore interface {
	Create(ctx context.Context, e *model.SurveyEvent) error
	ListBySurvey(ctx context.Context, surveyID uint, name string, limit int) ([]model.SurveyEvent, error)
}

// DBEventPublisher 写入 survey_events 表
type DBEventPublisher struct {
	Store EventStore
}

func NewDBEventPublisher(store EventStore) *DBEventPublisher {
	return &DBEventPublisher{Store: store}
}

func (p *DBEventPublisher) Publish(ctx context.Context, ev SurveyEventMessage) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	logger.Log.Info("survey event",
		zap.Uint("surveyID", ev.SurveyID),
		zap.Uint("userID", ev.UserID),
		zap.String("event", ev.Name),
	)
	return p.Store.Create(ctx, &model.SurveyEvent{
		SurveyID: ev.SurveyID,
		UserID:   ev.UserID,
		Name:     ev.Name,
		Payload:  datatypes.JSON(payload),
	})
}

// RedisStreamPublisher 追加到 Redis Stream，供分析管道消费
type RedisStreamPublisher struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	if stream == "" {
		stream = "advancedsurvey:events"
	}
	return &RedisStreamPublisher{Client: client, Stream: stream, MaxLen: 100000}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, ev SurveyEventMessage) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	return p.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"survey_id": ev.SurveyID,
			"user_id":   ev.UserID,
			"name":      ev.Name,
			"payload":   string(payload),
		},
	}).Err()
}

// MultiPublisher 依次发送到所有下游，错误合并返回
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, ev SurveyEventMessage) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
