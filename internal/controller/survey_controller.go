package controller

import (
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/service"
	"advanced_survey_backend/internal/survey"
	"advanced_survey_backend/internal/util"
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

// SurveyAPI 问卷相关的业务接口
type SurveyAPI interface {
	CreateSurvey(ctx context.Context, creatorID uint, req service.CreateSurveyRequest) (*model.Survey, error)
	GetLearnerView(ctx context.Context, surveyID uint, user *util.Claims) (*service.LearnerView, error)
	Submit(ctx context.Context, surveyID uint, user *util.Claims, form survey.FormData) (*service.SubmitResult, error)
	GetStudioView(ctx context.Context, surveyID uint) (*service.StudioView, error)
	UpdateStudio(ctx context.Context, surveyID uint, req service.StudioUpdateRequest) (*service.StudioUpdateResult, error)
	ListEvents(ctx context.Context, surveyID uint, name string, limit int) ([]model.SurveyEvent, error)
}

type SurveyController struct {
	SurveyService SurveyAPI
	Permission    *service.ResultsPermission
}

func NewSurveyController(surveyService SurveyAPI, permission *service.ResultsPermission) *SurveyController {
	return &SurveyController{SurveyService: surveyService, Permission: permission}
}

// surveyID 解析路径参数，失败时已写入响应
func surveyID(c *gin.Context) (uint, bool) {
	id, err := util.ParseID(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "Invalid survey ID")
		return 0, false
	}
	return id, true
}

// 业务错误映射为 HTTP 状态码
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSurveyNotFound):
		util.NotFound(c)
	case errors.Is(err, util.ErrSubmissionBusy):
		util.Conflict(c, err.Error())
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(c)
	default:
		util.LogInternalError(c, err)
	}
}

// GetSurvey godoc
// @Summary 学员视图
// @Description 返回题目、已通过校验的答案以及是否可以提交
// @Tags 问卷
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Success 200 {object} util.Response{data=service.LearnerView}
// @Failure 404 {object} util.Response
// @Router /api/surveys/{id} [get]
func (sc *SurveyController) GetSurvey(c *gin.Context) {
	id, ok := surveyID(c)
	if !ok {
		return
	}

	view, err := sc.SurveyService.GetLearnerView(c.Request.Context(), id, util.GetUserFromContext(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	util.Success(c, view)
}

// Submit godoc
// @Summary 提交问卷
// @Description 校验或次数限制失败时 success=false，HTTP 状态仍为 200
// @Tags 问卷
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Param form body survey.FormData true "问题ID到答案的映射"
// @Success 200 {object} util.Response{data=service.SubmitResult}
// @Failure 400 {object} util.Response
// @Failure 409 {object} util.Response "同一学员的另一次提交正在处理"
// @Router /api/surveys/{id}/submit [post]
func (sc *SurveyController) Submit(c *gin.Context) {
	id, ok := surveyID(c)
	if !ok {
		return
	}

	var form survey.FormData
	if err := c.ShouldBindJSON(&form); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	res, err := sc.SurveyService.Submit(c.Request.Context(), id, util.GetUserFromContext(c), form)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	util.Success(c, res)
}

// CreateSurvey godoc
// @Summary 创建问卷实例
// @Tags 问卷管理
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param survey body service.CreateSurveyRequest true "问卷设置，questions 为空时使用默认题目"
// @Success 201 {object} util.Response{data=model.Survey}
// @Failure 400 {object} util.Response
// @Router /api/teacher/surveys [post]
func (sc *SurveyController) CreateSurvey(c *gin.Context) {
	var req service.CreateSurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	user := util.GetUserFromContext(c)
	sv, err := sc.SurveyService.CreateSurvey(c.Request.Context(), user.UserID, req)
	var schemaErr *survey.SchemaError
	if errors.As(err, &schemaErr) {
		util.BadRequest(c, schemaErr.Error())
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	util.Created(c, sv)
}

// GetStudio godoc
// @Summary 作者视图
// @Tags 问卷管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Success 200 {object} util.Response{data=service.StudioView}
// @Router /api/teacher/surveys/{id}/studio [get]
func (sc *SurveyController) GetStudio(c *gin.Context) {
	id, ok := surveyID(c)
	if !ok {
		return
	}

	view, err := sc.SurveyService.GetStudioView(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	util.Success(c, view)
}

// UpdateStudio godoc
// @Summary 编辑问卷
// @Description 题目为空或无法解析时返回 success=false，不修改任何设置
// @Tags 问卷管理
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Param settings body service.StudioUpdateRequest true "问卷设置"
// @Success 200 {object} util.Response{data=service.StudioUpdateResult}
// @Router /api/teacher/surveys/{id}/studio [put]
func (sc *SurveyController) UpdateStudio(c *gin.Context) {
	id, ok := surveyID(c)
	if !ok {
		return
	}

	var req service.StudioUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	res, err := sc.SurveyService.UpdateStudio(c.Request.Context(), id, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	util.Success(c, res)
}

// ListEvents godoc
// @Summary 提交日志
// @Tags 问卷管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Param name query string false "事件名"
// @Param limit query int false "条数" default(100)
// @Success 200 {object} util.Response{data=[]model.SurveyEvent}
// @Failure 403 {object} util.Response
// @Router /api/surveys/{id}/events [get]
func (sc *SurveyController) ListEvents(c *gin.Context) {
	id, ok := surveyID(c)
	if !ok {
		return
	}
	if !sc.Permission.CanViewResults(util.GetUserFromContext(c)) {
		util.Forbidden(c)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := sc.SurveyService.ListEvents(c.Request.Context(), id, c.Query("name"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	util.Success(c, events)
}
