package model

// Survey 一个问卷实例（课程页面中的一个组件）的设置
// swagger:model Survey
type Survey struct {
	BaseModel
	CourseID       string `gorm:"size:255;index" json:"courseId"`
	DisplayName    string `gorm:"size:255" json:"displayName"`
	BlockName      string `gorm:"size:255" json:"blockName"`
	Feedback       string `gorm:"type:text" json:"feedback"`
	MaxSubmissions int    `gorm:"default:1" json:"maxSubmissions"` // 0 不限次数
	Questions      string `gorm:"type:text;not null" json:"-"`     // 作者可编辑的 JSON 文本
	CreatorID      uint   `gorm:"index" json:"creatorId"`
}

func (Survey) TableName() string {
	return "surveys"
}
