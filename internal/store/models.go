package store

import "time"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	DisplayName  string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

type Owner struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProjectState string

const (
	ProjectStateEmpty   ProjectState = "empty"
	ProjectStateRunning ProjectState = "running"
	ProjectStateStopped ProjectState = "stopped"
	ProjectStateIdle    ProjectState = "idle"
)

type Project struct {
	ID        int64
	OwnerID   int64
	OwnerName string
	Name      string
	Env       map[string]string
	State     ProjectState
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Domain struct {
	ID            int64
	ProjectID     int64
	Host          string
	ContainerPort int
	ContainerIP   string
	DBURL         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type BuildStatus string

const (
	BuildPending   BuildStatus = "pending"
	BuildBuilding  BuildStatus = "building"
	BuildSucceeded BuildStatus = "successful"
	BuildFailed    BuildStatus = "failed"
)

type Build struct {
	ID         string
	ProjectID  int64
	Status     BuildStatus
	Log        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

type Session struct {
	ID        string
	UserID    int64
	ExpiresAt *time.Time
	Blob      string
	CreatedAt time.Time
}
