package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// IsStaff 课程教师和管理员
func (r UserRole) IsStaff() bool {
	return r == Teacher || r == Admin
}

// User 宿主 LMS 的用户表，本服务只读
// swagger:model User
type User struct {
	BaseModel
	Username string   `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Email    string   `gorm:"size:100;not null" json:"email"`
	Role     UserRole `gorm:"size:20;default:'student'" json:"role"`
}

func (User) TableName() string {
	return "users"
}
