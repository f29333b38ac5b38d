package controller

import (
	"advanced_survey_backend/internal/service"
	"advanced_survey_backend/internal/util"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

type ExportAPI interface {
	RequestExport(ctx context.Context, surveyID uint) (*service.ExportStatus, error)
	Status(ctx context.Context, surveyID uint) (*service.ExportStatus, error)
}

// ExportController 结果导出，仅结果查看者可用
type ExportController struct {
	ExportService ExportAPI
	Permission    *service.ResultsPermission
}

func NewExportController(exportService ExportAPI, permission *service.ResultsPermission) *ExportController {
	return &ExportController{ExportService: exportService, Permission: permission}
}

func (ec *ExportController) authorize(c *gin.Context) (uint, bool) {
	id, ok := surveyID(c)
	if !ok {
		return 0, false
	}
	if !ec.Permission.CanViewResults(util.GetUserFromContext(c)) {
		util.Forbidden(c)
		return 0, false
	}
	return id, true
}

// RequestExport godoc
// @Summary 发起导出
// @Description 已有进行中的导出时不会重复提交，直接返回当前状态
// @Tags 导出
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Success 200 {object} util.Response{data=service.ExportStatus}
// @Failure 403 {object} util.Response
// @Router /api/surveys/{id}/export [post]
func (ec *ExportController) RequestExport(c *gin.Context) {
	id, ok := ec.authorize(c)
	if !ok {
		return
	}

	status, err := ec.ExportService.RequestExport(c.Request.Context(), id)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, status)
}

// GetExportStatus godoc
// @Summary 查询导出状态
// @Tags 导出
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "问卷ID"
// @Success 200 {object} util.Response{data=service.ExportStatus}
// @Failure 403 {object} util.Response
// @Router /api/surveys/{id}/export [get]
func (ec *ExportController) GetExportStatus(c *gin.Context) {
	id, ok := ec.authorize(c)
	if !ok {
		return
	}

	status, err := ec.ExportService.Status(c.Request.Context(), id)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, status)
}

// ReportResolver 校验本地下载链接并返回文件路径
type ReportResolver interface {
	Resolve(key, sig string) (string, error)
}

// ReportController 本地存储时提供报表下载
type ReportController struct {
	Reports ReportResolver
}

func NewReportController(reports ReportResolver) *ReportController {
	return &ReportController{Reports: reports}
}

// DownloadReport godoc
// @Summary 下载导出报表
// @Description 仅本地存储时可用，链接由导出状态接口签发，过期后需重新查询
// @Tags 导出
// @Produce text/csv
// @Param filepath path string true "报表路径"
// @Param sig query string true "下载签名"
// @Success 200 {file} file
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /exports/{filepath} [get]
func (rc *ReportController) DownloadReport(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("filepath"), "/")
	file, err := rc.Reports.Resolve(key, c.Query("sig"))
	if err != nil {
		util.Forbidden(c)
		return
	}
	if _, err := os.Stat(file); err != nil {
		util.NotFound(c)
		return
	}
	c.FileAttachment(file, filepath.Base(file))
}
