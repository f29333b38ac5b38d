package service

import (
	"advanced_survey_backend/internal/cache"
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/survey"
	"advanced_survey_backend/internal/util"
	"advanced_survey_backend/pkg/logger"
	"advanced_survey_backend/pkg/monitoring"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const msgMustAddQuestions = "You must add questions."

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

type SurveyStore interface {
	Create(ctx context.Context, s *model.Survey) error
	FindByID(ctx context.Context, id uint) (*model.Survey, error)
	UpdateSettings(ctx context.Context, s *model.Survey) error
}

type LearnerStateStore interface {
	Find(ctx context.Context, surveyID, userID uint) (*model.SurveyLearnerState, error)
	Mutate(ctx context.Context, surveyID, userID uint, fn func(st *model.SurveyLearnerState) (bool, error)) error
	ListForExport(ctx context.Context, surveyID uint) ([]model.SurveyLearnerState, error)
}

// CreateSurveyRequest 创建问卷实例
// swagger:model CreateSurveyRequest
type CreateSurveyRequest struct {
	CourseID       string `json:"courseId" binding:"required"`
	DisplayName    string `json:"displayName"`
	BlockName      string `json:"blockName"`
	Feedback       string `json:"feedback"`
	MaxSubmissions *int   `json:"maxSubmissions"`
	Questions      string `json:"questions"` // 为空时使用默认题目
}

// StudioUpdateRequest 作者编辑问卷
// swagger:model StudioUpdateRequest
type StudioUpdateRequest struct {
	Questions      string `json:"questions"`
	Feedback       string `json:"feedback"`
	MaxSubmissions int    `json:"maxSubmissions"`
	BlockName      string `json:"blockName"`
}

// StudioView 作者视图，题目以文本形式返回
// swagger:model StudioView
type StudioView struct {
	Questions      string `json:"questions"`
	Feedback       string `json:"feedback"`
	MaxSubmissions int    `json:"maxSubmissions"`
	BlockName      string `json:"blockName"`
	DisplayName    string `json:"displayName"`
}

// StudioUpdateResult 编辑结果，失败时不写库
// swagger:model StudioUpdateResult
type StudioUpdateResult struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// LearnerView 学员视图
// swagger:model LearnerView
type LearnerView struct {
	SurveyID         uint             `json:"surveyId"`
	DisplayName      string           `json:"displayName"`
	BlockName        string           `json:"blockName"`
	Feedback         string           `json:"feedback"`
	Questions        survey.Schema    `json:"questions"`
	Answers          survey.AnswerMap `json:"answers"`
	State            string           `json:"state"`
	CanSubmit        bool             `json:"canSubmit"`
	CanViewResults   bool             `json:"canViewResults"`
	SubmissionsCount int              `json:"submissionsCount"`
	MaxSubmissions   int              `json:"maxSubmissions"`
}

// SubmitResult 提交结果，校验或策略错误也以 200 返回
// swagger:model SubmitResult
type SubmitResult struct {
	Success          bool     `json:"success"`
	Errors           []string `json:"errors"`
	CanSubmit        bool     `json:"canSubmit"`
	SubmissionsCount int      `json:"submissionsCount"`
	MaxSubmissions   int      `json:"maxSubmissions"`
}

type SurveyService struct {
	Surveys    SurveyStore
	States     LearnerStateStore
	Locker     cache.SubmissionLocker
	Events     EventPublisher
	EventLog   EventStore
	Permission *ResultsPermission

	// 新建问卷的默认提交次数，配置热更新时修改
	defaultMax atomic.Int64
}

func NewSurveyService(
	surveys SurveyStore,
	states LearnerStateStore,
	locker cache.SubmissionLocker,
	events EventPublisher,
	eventLog EventStore,
	permission *ResultsPermission,
	defaultMaxSubmissions int,
) *SurveyService {
	s := &SurveyService{
		Surveys:    surveys,
		States:     states,
		Locker:     locker,
		Events:     events,
		EventLog:   eventLog,
		Permission: permission,
	}
	s.SetDefaultMaxSubmissions(defaultMaxSubmissions)
	return s
}

func (s *SurveyService) SetDefaultMaxSubmissions(n int) {
	s.defaultMax.Store(int64(n))
}

// CreateSurvey 新建问卷实例，未提供题目时使用默认题目
func (s *SurveyService) CreateSurvey(ctx context.Context, creatorID uint, req CreateSurveyRequest) (*model.Survey, error) {
	schema := survey.DefaultSchema()
	if strings.TrimSpace(req.Questions) != "" {
		parsed, err := survey.ParseSchema(req.Questions)
		if err != nil {
			return nil, err
		}
		schema = parsed
	}
	text, err := schema.Text()
	if err != nil {
		return nil, err
	}

	maxSubmissions := int(s.defaultMax.Load())
	if req.MaxSubmissions != nil {
		maxSubmissions = *req.MaxSubmissions
	}
	if maxSubmissions < 0 {
		return nil, errors.New("max submissions must not be negative")
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = survey.DefaultDisplayName
	}
	feedback := req.Feedback
	if feedback == "" {
		feedback = survey.DefaultFeedback
	}

	sv := &model.Survey{
		CourseID:       req.CourseID,
		DisplayName:    displayName,
		BlockName:      req.BlockName,
		Feedback:       feedback,
		MaxSubmissions: maxSubmissions,
		Questions:      text,
		CreatorID:      creatorID,
	}
	if err := s.Surveys.Create(ctx, sv); err != nil {
		return nil, fmt.Errorf("create survey: %w", err)
	}
	if sv.BlockName == "" {
		sv.BlockName = fmt.Sprintf("advancedsurvey-%d", sv.ID)
		if err := s.Surveys.UpdateSettings(ctx, sv); err != nil {
			return nil, fmt.Errorf("set block name: %w", err)
		}
	}
	return sv, nil
}

func (s *SurveyService) load(ctx context.Context, surveyID uint) (*model.Survey, survey.Schema, error) {
	sv, err := s.Surveys.FindByID(ctx, surveyID)
	if err != nil {
		return nil, nil, err
	}
	if sv == nil {
		return nil, nil, util.ErrSurveyNotFound
	}
	schema, err := survey.ParseSchema(sv.Questions)
	if err != nil {
		return nil, nil, fmt.Errorf("stored questions of survey %d: %w", surveyID, err)
	}
	return sv, schema, nil
}

// GetLearnerView 学员看到的题目、已通过校验的答案和提交状态
func (s *SurveyService) GetLearnerView(ctx context.Context, surveyID uint, user *util.Claims) (*LearnerView, error) {
	sv, schema, err := s.load(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	st, err := s.States.Find(ctx, surveyID, user.UserID)
	if err != nil {
		return nil, err
	}
	current := decodeLearnerState(st)
	valid, _ := survey.Validate(schema, current.Answers)

	return &LearnerView{
		SurveyID:         sv.ID,
		DisplayName:      sv.DisplayName,
		BlockName:        sv.BlockName,
		Feedback:         sv.Feedback,
		Questions:        schema,
		Answers:          valid,
		State:            survey.Evaluate(schema, current.Answers).String(),
		CanSubmit:        survey.CanSubmit(sv.MaxSubmissions, current.SubmissionsCount),
		CanViewResults:   s.Permission.CanViewResults(user),
		SubmissionsCount: current.SubmissionsCount,
		MaxSubmissions:   sv.MaxSubmissions,
	}, nil
}

// Submit 处理一次提交。同一学员的并发提交由分布式锁和行锁串行化。
func (s *SurveyService) Submit(ctx context.Context, surveyID uint, user *util.Claims, form survey.FormData) (*SubmitResult, error) {
	sv, schema, err := s.load(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.Locker.Lock(ctx, surveyID, user.UserID)
	if errors.Is(err, cache.ErrLockHeld) {
		monitoring.SubmissionsTotal.WithLabelValues("busy").Inc()
		return nil, util.ErrSubmissionBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire submission lock: %w", err)
	}
	defer unlock()

	var out survey.Outcome
	err = s.States.Mutate(ctx, surveyID, user.UserID, func(st *model.SurveyLearnerState) (bool, error) {
		out = survey.Submit(schema, sv.MaxSubmissions, decodeLearnerState(st), form)
		if !out.Changed {
			return false, nil
		}
		answers, err := json.Marshal(out.State.Answers)
		if err != nil {
			return false, err
		}
		st.Answers = datatypes.JSON(answers)
		st.SubmissionsCount = out.State.SubmissionsCount
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("save learner state: %w", err)
	}

	if out.Success {
		monitoring.SubmissionsTotal.WithLabelValues("accepted").Inc()
		s.publishSubmitted(ctx, sv, user.UserID, out.State.Answers)
	} else {
		monitoring.SubmissionsTotal.WithLabelValues("rejected").Inc()
		logger.Survey(surveyID).Debug("submission rejected",
			zap.Uint("userID", user.UserID),
			zap.Strings("errors", out.Errors),
		)
	}

	return &SubmitResult{
		Success:          out.Success,
		Errors:           nonNil(out.Errors),
		CanSubmit:        out.CanSubmit,
		SubmissionsCount: out.SubmissionsCount,
		MaxSubmissions:   out.MaxSubmissions,
	}, nil
}

// 事件发送失败不影响已提交的答案
func (s *SurveyService) publishSubmitted(ctx context.Context, sv *model.Survey, userID uint, answers survey.AnswerMap) {
	events := []SurveyEventMessage{
		{
			SurveyID: sv.ID,
			UserID:   userID,
			Name:     util.EventCompletion,
			Payload:  map[string]interface{}{"completion": 1.0},
		},
		{
			SurveyID: sv.ID,
			UserID:   userID,
			Name:     util.EventSubmitted,
			Payload:  map[string]interface{}{"url_name": sv.BlockName, "answers": answers},
		},
	}
	for _, ev := range events {
		if err := s.Events.Publish(ctx, ev); err != nil {
			logger.Survey(sv.ID).Error("publish survey event failed",
				zap.String("event", ev.Name),
				zap.Uint("userID", userID),
				zap.Error(err),
			)
		}
	}
}

func (s *SurveyService) GetStudioView(ctx context.Context, surveyID uint) (*StudioView, error) {
	sv, schema, err := s.load(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	text, err := schema.Text()
	if err != nil {
		return nil, err
	}
	return &StudioView{
		Questions:      text,
		Feedback:       sv.Feedback,
		MaxSubmissions: sv.MaxSubmissions,
		BlockName:      sv.BlockName,
		DisplayName:    sv.DisplayName,
	}, nil
}

// UpdateStudio 先完整校验再写库，任何错误都不改动已有设置
func (s *SurveyService) UpdateStudio(ctx context.Context, surveyID uint, req StudioUpdateRequest) (*StudioUpdateResult, error) {
	sv, err := s.Surveys.FindByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, util.ErrSurveyNotFound
	}

	if strings.TrimSpace(req.Questions) == "" {
		return &StudioUpdateResult{Errors: []string{msgMustAddQuestions}}, nil
	}
	schema, err := survey.ParseSchema(req.Questions)
	if err != nil {
		return &StudioUpdateResult{Errors: []string{err.Error()}}, nil
	}
	if req.MaxSubmissions < 0 {
		return &StudioUpdateResult{Errors: []string{"Max submissions must not be negative."}}, nil
	}
	text, err := schema.Text()
	if err != nil {
		return nil, err
	}

	sv.Questions = text
	sv.Feedback = req.Feedback
	sv.MaxSubmissions = req.MaxSubmissions
	if req.BlockName != "" {
		sv.BlockName = req.BlockName
	}
	if err := s.Surveys.UpdateSettings(ctx, sv); err != nil {
		return nil, fmt.Errorf("update survey %d: %w", surveyID, err)
	}
	logger.Survey(surveyID).Info("survey settings updated", zap.Int("questions", len(schema)))
	return &StudioUpdateResult{Success: true, Errors: []string{}}, nil
}

// ListEvents 提交日志，name 为空时返回全部事件
func (s *SurveyService) ListEvents(ctx context.Context, surveyID uint, name string, limit int) ([]model.SurveyEvent, error) {
	switch {
	case limit <= 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}
	return s.EventLog.ListBySurvey(ctx, surveyID, name, limit)
}

func decodeLearnerState(st *model.SurveyLearnerState) survey.LearnerState {
	if st == nil {
		return survey.LearnerState{}
	}
	return survey.LearnerState{
		Answers:          decodeAnswers(st.Answers),
		SubmissionsCount: st.SubmissionsCount,
	}
}

// 损坏的答案 JSON 视为空答案
func decodeAnswers(raw datatypes.JSON) survey.AnswerMap {
	if len(raw) == 0 {
		return survey.AnswerMap{}
	}
	answers := survey.AnswerMap{}
	if err := json.Unmarshal(raw, &answers); err != nil {
		logger.Log.Warn("undecodable learner answers", zap.Error(err))
		return survey.AnswerMap{}
	}
	return answers
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
