package util

import "errors"

var (
	ErrSurveyNotFound     = errors.New("survey not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSubmissionBusy     = errors.New("another submission for this survey is in progress")
	ErrExportTaskNotFound = errors.New("export task not found")
	ErrInvalidID          = errors.New("invalid id")
)
