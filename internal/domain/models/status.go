package models

// Status and role values used by the seeded fixtures and gateway defaults.
// The store does not restrict these fields to the listed values.
const (
	UserRoleAdmin  = "admin"
	UserRoleMember = "member"

	UserStatusActive   = "active"
	UserStatusInactive = "inactive"

	ProjectStatusPlanning  = "planning"
	ProjectStatusActive    = "active"
	ProjectStatusOnHold    = "on_hold"
	ProjectStatusCompleted = "completed"

	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusReview     = "review"
	TaskStatusDone       = "done"

	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
	TaskPriorityUrgent = "urgent"

	TimesheetStatusDraft     = "draft"
	TimesheetStatusSubmitted = "submitted"
	TimesheetStatusApproved  = "approved"
	TimesheetStatusRejected  = "rejected"

	EventStatusScheduled = "scheduled"
	EventStatusCancelled = "cancelled"
	EventStatusCompleted = "completed"
)
