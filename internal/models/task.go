package models

import (
	"time"
)

// TaskType enumerates the kinds of human intervention a task can request.
type TaskType string

const (
	TaskCreativeApproval      TaskType = "creative_approval"
	TaskPermissionException   TaskType = "permission_exception"
	TaskComplianceReview      TaskType = "compliance_review"
	TaskConfigurationRequired TaskType = "configuration_required"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskCreativeApproval, TaskPermissionException, TaskComplianceReview, TaskConfigurationRequired:
		return true
	}
	return false
}

// TaskStatus is the persisted lifecycle state of a ReviewTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskEscalated  TaskStatus = "escalated"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Priority orders tasks in operator listings.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns a sort key where urgent sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// Resolution records how a human closed a task.
type Resolution string

const (
	ResolutionApproved       Resolution = "approved"
	ResolutionRejected       Resolution = "rejected"
	ResolutionCompleted      Resolution = "completed"
	ResolutionCannotComplete Resolution = "cannot_complete"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionApproved, ResolutionRejected, ResolutionCompleted, ResolutionCannotComplete:
		return true
	}
	return false
}

// AIRecommendation is the non-binding automated verdict carried on a
// creative_approval task.
type AIRecommendation struct {
	Verdict         string   `json:"verdict"`
	Confidence      float64  `json:"confidence"`
	Category        string   `json:"category,omitempty"`
	PolicyTriggered string   `json:"policy_triggered"`
	Reason          string   `json:"reason,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// TaskContext links a task to the object that raised it.
type TaskContext struct {
	MediaBuyID      string            `json:"media_buy_id,omitempty"`
	CreativeID      string            `json:"creative_id,omitempty"`
	Operation       string            `json:"operation,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	Recommendation  *AIRecommendation `json:"ai_recommendation,omitempty"`
	ExpectedOutcome map[string]any    `json:"expected_outcome,omitempty"`
}

// ReviewTask is a unit of required human intervention.
type ReviewTask struct {
	TaskID      string      `json:"task_id"`
	TaskType    TaskType    `json:"task_type"`
	TenantID    string      `json:"tenant_id"`
	PrincipalID string      `json:"principal_id"`
	AdapterName string      `json:"adapter_name,omitempty"`
	Status      TaskStatus  `json:"status"`
	Priority    Priority    `json:"priority"`
	Context     TaskContext `json:"context"`

	AssignedTo string     `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DueBy       *time.Time `json:"due_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Resolution       Resolution `json:"resolution,omitempty"`
	ResolutionDetail string     `json:"resolution_detail,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`

	// IsOverdue is computed on read and never persisted.
	IsOverdue bool `json:"is_overdue"`
}

// Overdue reports whether the task is past due_by with no resolution.
func (t ReviewTask) Overdue(now time.Time) bool {
	if t.DueBy == nil || t.Status.Terminal() {
		return false
	}
	return now.After(*t.DueBy)
}

// EffectiveStatus folds the derived escalation flag into the stored status.
func (t ReviewTask) EffectiveStatus(now time.Time) TaskStatus {
	if t.Overdue(now) {
		return TaskEscalated
	}
	return t.Status
}
