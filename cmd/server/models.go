package main

import (
	"time"

	"github.com/evolutive/statusflow/audit"
	"github.com/evolutive/statusflow/rules"
)

// API request and response models

// ProcessRequest represents the request body for triggering a run
type ProcessRequest struct {
	ObjectType string `json:"object_type,omitempty" example:"order"`
	DryRun     bool   `json:"dry_run" example:"true"`
	RuleID     *int64 `json:"rule_id,omitempty" example:"5"`
}

// ProcessResponse reports the result of a run
type ProcessResponse struct {
	ProcessedCount int  `json:"processed_count" example:"3"`
	DryRun         bool `json:"dry_run" example:"true"`
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	ID          int64     `json:"id" example:"5"`
	FromState   int64     `json:"from_state" example:"2"`
	ToState     int64     `json:"to_state" example:"3"`
	DelayHours  int       `json:"delay_hours" example:"24"`
	Condition   string    `json:"condition,omitempty" example:"Order.total_paid >= 100.0"`
	AutoExecute bool      `json:"auto_execute" example:"true"`
	Active      bool      `json:"active" example:"true"`
	CreatedAt   time.Time `json:"created_at" example:"2024-01-15T10:30:00Z"`
	UpdatedAt   time.Time `json:"updated_at" example:"2024-01-15T10:30:00Z"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
}

// LogResponse represents an audit event in API responses
type LogResponse struct {
	ID          int64          `json:"id" example:"42"`
	Level       string         `json:"level" example:"info"`
	Message     string         `json:"message" example:"Status changed from 2 to 3"`
	SubjectType string         `json:"subject_type" example:"order"`
	SubjectID   int64          `json:"subject_id" example:"1001"`
	RuleID      *int64         `json:"rule_id,omitempty" example:"5"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at" example:"2024-01-15T10:30:00Z"`
}

// LogsListResponse represents the response for querying the audit log
type LogsListResponse struct {
	Logs  []LogResponse `json:"logs"`
	Total int64         `json:"total" example:"120"`
}

// CleanupRequest represents the request body for a retention purge
type CleanupRequest struct {
	Days *int `json:"days,omitempty" example:"30"`
}

// DeletedResponse reports how many records a purge removed
type DeletedResponse struct {
	DeletedCount int64 `json:"deleted_count" example:"17"`
}

func toRuleResponse(r *rules.Rule) RuleResponse {
	return RuleResponse{
		ID:          r.ID,
		FromState:   r.FromState,
		ToState:     r.ToState,
		DelayHours:  r.DelayHours,
		Condition:   r.Condition,
		AutoExecute: r.AutoExecute,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toLogResponse(e *audit.Event) LogResponse {
	return LogResponse{
		ID:          e.ID,
		Level:       string(e.Level),
		Message:     e.Message,
		SubjectType: e.SubjectType,
		SubjectID:   e.SubjectID,
		RuleID:      e.RuleID,
		Context:     e.Context,
		CreatedAt:   e.CreatedAt,
	}
}
