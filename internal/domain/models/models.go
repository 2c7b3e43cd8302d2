// Package models defines the business entities managed by the data client.
// Field names (json tags) are the canonical names used in filters, orderBy,
// and mutation data throughout the query surface.
package models

import (
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	Avatar    *string   `json:"avatar,omitempty"`
	Timezone  *string   `json:"timezone,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	AgencyID  *string   `json:"agencyId,omitempty"`
	Password  *string   `json:"password,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type NotificationPreferences struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Email     bool      `json:"email"`
	InApp     bool      `json:"inApp"`
	Slack     bool      `json:"slack"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Project struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	AgencyID      string     `json:"agencyId"`
	ClientID      *string    `json:"clientId,omitempty"`
	Status        string     `json:"status"`
	Type          *string    `json:"type,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Budget        *float64   `json:"budget,omitempty"`
	PricingModel  *string    `json:"pricingModel,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Progress      int        `json:"progress"`
	InternalNotes *string    `json:"internalNotes,omitempty"`
	Attachments   []string   `json:"attachments"`
	CreatedBy     *string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        *string    `json:"description,omitempty"`
	ProjectID          *string    `json:"projectId,omitempty"`
	AssignedTo         *string    `json:"assignedTo,omitempty"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority"`
	EstimatedHours     *float64   `json:"estimatedHours,omitempty"`
	ActualHours        *float64   `json:"actualHours,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	AcceptanceCriteria *string    `json:"acceptanceCriteria,omitempty"`
	Attachments        []string   `json:"attachments"`
	CreatedBy          *string    `json:"createdBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	Company   *string   `json:"company,omitempty"`
	Address   *string   `json:"address,omitempty"`
	City      *string   `json:"city,omitempty"`
	State     *string   `json:"state,omitempty"`
	ZipCode   *string   `json:"zipCode,omitempty"`
	Country   *string   `json:"country,omitempty"`
	Website   *string   `json:"website,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	Status    string    `json:"status"`
	AgencyID  *string   `json:"agencyId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Contact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       *string   `json:"phone,omitempty"`
	Designation *string   `json:"designation,omitempty"`
	Department  *string   `json:"department,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	ClientID    *string   `json:"clientId,omitempty"`
	AgencyID    *string   `json:"agencyId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Timesheet stores its user/project/task references as bare strings; the
// schema declares no relation objects for them and no referential enforcement.
type Timesheet struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ProjectID   *string   `json:"projectId,omitempty"`
	TaskID      *string   `json:"taskId,omitempty"`
	Date        time.Time `json:"date"`
	HoursWorked float64   `json:"hoursWorked"`
	Description *string   `json:"description,omitempty"`
	Status      string    `json:"status"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Location    *string   `json:"location,omitempty"`
	Attendees   []string  `json:"attendees"`
	EventType   string    `json:"eventType"`
	Status      string    `json:"status"`
	CreatedBy   *string   `json:"createdBy,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ActivityLog rows are append-style audit entries; they carry no updatedAt.
type ActivityLog struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Action       *string   `json:"action,omitempty"`
	Description  *string   `json:"description,omitempty"`
	ResourceType *string   `json:"resourceType,omitempty"`
	ResourceID   *string   `json:"resourceId,omitempty"`
	IPAddress    *string   `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
