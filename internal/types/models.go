// internal/types/models.go
package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// InboundQuestion is a question submitted from any front end (CLI, HTTP,
// scheduler) before it becomes a Run.
type InboundQuestion struct {
	Source     string          `json:"source"`
	ThreadName ThreadName      `json:"thread_name,omitempty"`
	Question   string          `json:"question"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// AskRecord is one persisted question/answer exchange.
type AskRecord struct {
	ID                 uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt          time.Time      `json:"created_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	RunID              string         `gorm:"type:varchar(64);index" json:"run_id"`
	ThreadName         string         `gorm:"type:varchar(255);index" json:"thread_name"`
	Source             string         `gorm:"type:varchar(32);index" json:"source"`
	Question           string         `gorm:"type:text;not null" json:"question"`
	Response           string         `gorm:"type:text" json:"response,omitempty"`
	RunStatus          string         `gorm:"type:varchar(32)" json:"run_status,omitempty"`
	DataRetrievalQuery string         `gorm:"type:text" json:"data_retrieval_query,omitempty"`
	ReportJSON         string         `gorm:"type:text" json:"report_json,omitempty"`
	ErrorMessage       string         `gorm:"type:text" json:"error_message,omitempty"`
	DurationMs         int64          `json:"duration_ms"`
	Success            bool           `gorm:"index" json:"success"`
}
