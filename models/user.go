package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"gorm.io/gorm"
)

// User is a back-office staff account. Customers never authenticate;
// this table only holds the staff who review and manage photo IDs.
type User struct {
	ID           int       `gorm:"primary_key" json:"id"`
	Username     string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name         string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Password     string    `gorm:"size:255;not null" json:"password"`
	Capabilities string    `gorm:"size:255" json:"capabilities"`
	IsActive     *bool     `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) PrepareGive() {
	u.Password = ""
}

// SetPassword stores the bcrypt hash of the given plaintext.
func (u *User) SetPassword(plain string) error {
	hashed, err := utils.HashPassword(plain)
	if err != nil {
		return err
	}
	u.Password = string(hashed)
	return nil
}

// CapabilityList splits the stored comma-separated grants.
func (u User) CapabilityList() []string {
	parts := strings.Split(u.Capabilities, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type LoginInfo struct {
	Token        string   `json:"token"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// Login checks the credentials and mints a JWT carrying the user's
// capabilities. Unknown usernames and wrong passwords produce the same
// error so the response doesn't leak which accounts exist.
func Login(db *gorm.DB, ctx context.Context, username string, password string) (*LoginInfo, error) {
	user := User{}
	if err := db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, errors.New("invalid username or password")
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, errors.New("invalid username or password")
	}

	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("user is disabled")
	}

	capabilities := user.CapabilityList()
	token, err := utils.JwtGenerate(user.ID, user.Name, capabilities)
	if err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token:        token,
		Name:         user.Name,
		Capabilities: capabilities,
	}, nil
}
