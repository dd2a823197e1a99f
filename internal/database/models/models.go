package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;not null;size:50" json:"username"`
	Email        string         `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash string         `gorm:"not null;size:255" json:"-"`
	PlanID       uint           `gorm:"not null;index" json:"plan_id"`
	StorageUsed  int64          `gorm:"not null;default:0" json:"storage_used"`
	IsAdmin      bool           `gorm:"not null;default:false" json:"is_admin"`
	IsSuspended  bool           `gorm:"not null;default:false" json:"is_suspended"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Plan    Plan     `gorm:"foreignKey:PlanID" json:"-"`
	Files   []File   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Folders []Folder `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	APIKeys []APIKey `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

type Plan struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"uniqueIndex;not null;size:50" json:"name"`
	StorageLimit    int64          `gorm:"not null" json:"storage_limit"` // bytes
	PriceCents      int64          `gorm:"not null;default:0" json:"price_cents"`
	APICallsPerHour int            `gorm:"not null;default:1000" json:"api_calls_per_hour"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Folder is one node in a per-user folder forest. ParentID nil means the
// folder sits at the user's root. Sibling names are unique per parent.
type Folder struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index:idx_sibling_name,unique" json:"user_id"`
	ParentID  *uint          `gorm:"index:idx_sibling_name,unique" json:"parent_id,omitempty"`
	Name      string         `gorm:"not null;size:255;index:idx_sibling_name,unique" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	User   User    `gorm:"foreignKey:UserID" json:"-"`
	Parent *Folder `gorm:"foreignKey:ParentID" json:"-"`
}

// File is the local metadata record for one remote object. RemoteID is the
// sole link to the physical object; it must reference a live remote object
// for as long as this row exists.
type File struct {
	ID        uint                                  `gorm:"primaryKey" json:"id"`
	UserID    uint                                  `gorm:"not null;index" json:"user_id"`
	FolderID  *uint                                 `gorm:"index" json:"folder_id,omitempty"`
	Filename  string                                `gorm:"not null;size:255" json:"filename"`
	FilePath  string                                `gorm:"not null;size:1024;default:'/';index" json:"file_path"`
	FileSize  int64                                 `gorm:"not null" json:"file_size"`
	MimeType  string                                `gorm:"size:100" json:"mime_type"`
	RemoteID  string                                `gorm:"not null;size:1024;index" json:"remote_id"`
	Metadata  datatypes.JSONType[map[string]string] `json:"metadata"`
	CreatedAt time.Time                             `json:"created_at"`
	UpdatedAt time.Time                             `json:"updated_at"`
	DeletedAt gorm.DeletedAt                        `gorm:"index" json:"-"`

	User   User    `gorm:"foreignKey:UserID" json:"-"`
	Folder *Folder `gorm:"foreignKey:FolderID" json:"-"`
}

// APIKey stores only a bcrypt hash of the issued secret. KeyPrefix is a
// short identifier embedded in the token so lookup does not scan every key.
type APIKey struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"not null;index" json:"user_id"`
	Name           string         `gorm:"not null;size:100" json:"name"`
	KeyHash        string         `gorm:"not null;size:255" json:"-"`
	KeyPrefix      string         `gorm:"not null;size:16;uniqueIndex" json:"key_prefix"`
	IsActive       bool           `gorm:"not null;default:true" json:"is_active"`
	IsTrial        bool           `gorm:"not null;default:false" json:"is_trial"`
	TrialExpiresAt *time.Time     `json:"trial_expires_at,omitempty"`
	LastUsedAt     *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// StorageOp statuses.
const (
	OpPending   = "pending"
	OpCommitted = "committed"
)

// StorageOp kinds.
const (
	OpUpload  = "upload"
	OpDelete  = "delete"
	OpReplace = "replace"
)

// StorageOp is a two-phase intent record written before a remote mutation
// and marked committed once the matching local write lands. The reconciler
// sweeps pending records whose operation never completed.
type StorageOp struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Kind      string    `gorm:"not null;size:20" json:"kind"`
	RemoteID  string    `gorm:"not null;size:1024;index" json:"remote_id"`
	ByteSize  int64     `gorm:"not null" json:"byte_size"`
	Status    string    `gorm:"not null;size:20;default:'pending';index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
