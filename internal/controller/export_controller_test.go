package controller

import (
	"advanced_survey_backend/internal/config"
	"advanced_survey_backend/internal/middleware"
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/service"
	"advanced_survey_backend/internal/util"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type stubExportAPI struct {
	requests int
	status   *service.ExportStatus
}

func (s *stubExportAPI) RequestExport(ctx context.Context, surveyID uint) (*service.ExportStatus, error) {
	s.requests++
	return s.status, nil
}

func (s *stubExportAPI) Status(ctx context.Context, surveyID uint) (*service.ExportStatus, error) {
	return s.status, nil
}

func exportRouter(api ExportAPI, groups []string) *gin.Engine {
	ec := NewExportController(api, service.NewResultsPermission(groups))
	r := gin.New()
	auth := r.Group("/api", middleware.AuthMiddleware(testConfig()))
	auth.POST("/surveys/:id/export", ec.RequestExport)
	auth.GET("/surveys/:id/export", ec.GetExportStatus)
	return r
}

func TestExportEndpoints(t *testing.T) {
	url := "https://files.test/report.csv"
	api := &stubExportAPI{status: &service.ExportStatus{
		LastExportResult: &service.ExportResult{ReportFilename: "report.csv"},
		DownloadURL:      &url,
	}}
	r := exportRouter(api, nil)

	if w := do(r, http.MethodPost, "/api/surveys/1/export", token(t, 5, model.Student), ""); w.Code != http.StatusForbidden {
		t.Fatalf("student export: status = %d", w.Code)
	}
	if api.requests != 0 {
		t.Fatalf("forbidden request must not reach the service")
	}

	w := do(r, http.MethodPost, "/api/surveys/1/export", token(t, 6, model.Teacher), "")
	if w.Code != http.StatusOK {
		t.Fatalf("teacher export: status = %d (%s)", w.Code, w.Body)
	}

	w = do(r, http.MethodGet, "/api/surveys/1/export", token(t, 6, model.Teacher), "")
	var resp struct {
		Data struct {
			ExportPending    bool    `json:"exportPending"`
			DownloadURL      *string `json:"downloadUrl"`
			LastExportResult struct {
				Error          *string `json:"error"`
				ReportFilename string  `json:"reportFilename"`
			} `json:"lastExportResult"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.DownloadURL == nil || *resp.Data.DownloadURL != url || resp.Data.LastExportResult.Error != nil {
		t.Fatalf("status payload = %s", w.Body)
	}
}

func TestExportExtraViewGroup(t *testing.T) {
	r := exportRouter(&stubExportAPI{status: &service.ExportStatus{}}, []string{"course_staff"})

	tok, err := signWithGroups(5, "course_staff")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if w := do(r, http.MethodGet, "/api/surveys/1/export", tok, ""); w.Code != http.StatusOK {
		t.Fatalf("extra group member: status = %d", w.Code)
	}
}

func TestDownloadReportRequiresSignedLink(t *testing.T) {
	local := service.NewLocalStorageProvider(&config.StorageConfig{LocalPath: t.TempDir()}, testSecret)
	key := service.ReportKey(1, "advancedsurvey-data-export-2024-01-01-000000.csv")
	if err := local.Upload(context.Background(), key, strings.NewReader("user_id,username\n"), 17, util.MimeCSV); err != nil {
		t.Fatalf("upload: %v", err)
	}
	link, err := local.URLFor(context.Background(), key, time.Hour)
	if err != nil {
		t.Fatalf("url: %v", err)
	}

	rc := NewReportController(local)
	r := gin.New()
	r.GET("/exports/*filepath", rc.DownloadReport)

	if w := do(r, http.MethodGet, "/exports/"+key, "", ""); w.Code != http.StatusForbidden {
		t.Fatalf("guessed path: status = %d", w.Code)
	}
	w := do(r, http.MethodGet, link, "", "")
	if w.Code != http.StatusOK || w.Body.String() != "user_id,username\n" {
		t.Fatalf("signed link: status = %d (%s)", w.Code, w.Body)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("report should download as attachment: %v", w.Header())
	}
}
