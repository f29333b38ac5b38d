package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimeCSV = "text/csv"
)

// 事件名
const (
	EventCompletion = "completion"
	EventSubmitted  = "advancedsurvey.submitted"
)
