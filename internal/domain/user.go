package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WildcardPermission grants every permission when present in any of the
// subject's groups.
const WildcardPermission = "*.*"

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Login        string    `gorm:"size:255;uniqueIndex;not null" json:"login"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	FirstName    string    `gorm:"size:50" json:"first_name"`
	LastName     string    `gorm:"size:50" json:"last_name"`
	Groups       []Group   `gorm:"many2many:groups_users" json:"groups,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// The user owns its session and audit rows; deleting the user takes
	// them along.
	Sessions     []RefreshSession `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	LoginHistory []LoginHistory   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Group struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	GroupName   string       `gorm:"size:50;not null" json:"group_name"`
	Permissions []Permission `gorm:"many2many:groups_permissions" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Permission struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PermissionName string    `gorm:"size:50;uniqueIndex;not null" json:"permission_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PermissionClosure returns the deduplicated union of permission names
// across every group the user belongs to.
func (u *User) PermissionClosure() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, g := range u.Groups {
		for _, p := range g.Permissions {
			if _, ok := seen[p.PermissionName]; ok {
				continue
			}
			seen[p.PermissionName] = struct{}{}
			names = append(names, p.PermissionName)
		}
	}
	return names
}
