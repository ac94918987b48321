package models

import "time"

// User 代表系统中的用户。
type User struct {
	BaseModel
	Username     string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"` // 不暴露密码哈希
	Email        string     `gorm:"type:varchar(100);uniqueIndex" json:"email,omitempty"`
	Nickname     string     `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL    string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Status       string     `gorm:"type:varchar(20);default:'offline'" json:"status,omitempty"` // 例如：online, offline, busy
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
	Bio          string     `gorm:"type:text" json:"bio,omitempty"`

	// FriendsCount 是冗余计数，只在登录或显式刷新会话时更新，
	// 不由好友同步器实时维护。
	FriendsCount int `gorm:"default:0" json:"friendsCount"`
}

// UserBasicInfo holds minimal public information about a user.
// Used for scenarios like displaying requester info in friend requests.
type UserBasicInfo struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}
