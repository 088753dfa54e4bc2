package store

import (
	"encoding/json"
	"time"

	"validai/api/internal/ordering"
)

type Organization struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Member struct {
	OrganizationID string
	UserID         string
	Email          string
	DisplayName    string
	Role           string
	CreatedAt      time.Time
}

type Subscription struct {
	ID               string
	OrganizationID   string
	Plan             string
	Status           string
	SeatLimit        int
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Invitation struct {
	ID             string
	OrganizationID string
	Email          string
	Role           string
	TokenHash      string
	ExpiresAt      time.Time
	AcceptedAt     *time.Time
	CreatedBy      string
	CreatedAt      time.Time
}

type Gallery struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	Visibility     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Processor struct {
	ID               string
	OrganizationID   string
	Name             string
	Description      string
	Status           string
	Areas            []ordering.Area
	LoadedSnapshotID string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Operation struct {
	ID            string
	ProcessorID   string
	Area          string
	Name          string
	OperationType string
	Prompt        string
	Position      float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PlaybookConfig is the frozen shape stored inside a snapshot and committed
// to the processor's history repository.
type PlaybookConfig struct {
	ProcessorName string              `json:"processor_name"`
	Description   string              `json:"description"`
	Areas         []ordering.Area     `json:"areas"`
	Operations    []PlaybookOperation `json:"operations"`
}

// PlaybookOperation is an operation as frozen into a playbook.
type PlaybookOperation struct {
	ID            string  `json:"id"`
	Area          string  `json:"area"`
	Name          string  `json:"name"`
	OperationType string  `json:"operation_type"`
	Prompt        string  `json:"prompt"`
	Position      float64 `json:"position"`
}

type Snapshot struct {
	ID            string
	ProcessorID   string
	VersionNumber int
	Name          string
	Description   string
	Visibility    string
	IsPublished   bool
	Config        json.RawMessage
	CreatedBy     string
	CreatedAt     time.Time
}

type Document struct {
	ID             string
	OrganizationID string
	Name           string
	SizeBytes      int64
	MimeType       string
	StoragePath    string
	UploadedBy     string
	CreatedAt      time.Time
}

type Run struct {
	ID                  string
	ProcessorID         string
	SnapshotID          string
	DocumentID          string
	Status              string
	TotalOperations     int
	CompletedOperations int
	FailedOperations    int
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CreatedBy           string
	CreatedAt           time.Time
}

type OperationResult struct {
	ID            string
	RunID         string
	OperationID   string
	OperationName string
	OperationType string
	Status        string
	Output        string
	ErrorMessage  string
	CreatedAt     time.Time
}
