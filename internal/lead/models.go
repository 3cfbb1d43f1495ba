package lead

import (
	"strings"
	"time"
)

// Lead is an imported prospect. The surrounding CRM application owns the full
// CRUD lifecycle; the engine only reads enrichment fields and flips the
// opt-out and activity markers.
//
// Invariants:
// - Email and WorkEmail are each unique when set; at least one must be set
//   before the lead can enter a campaign.
// - The engine never deletes leads; removal is delegated to the CRM
//   collaborator.
type Lead struct {
	ID        string `json:"id" db:"id"`
	Email     string `json:"email,omitempty" db:"email"`
	WorkEmail string `json:"work_email,omitempty" db:"work_email"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`

	JobTitle       string `json:"job_title,omitempty" db:"job_title"`
	Seniority      string `json:"seniority,omitempty" db:"seniority"`
	Departments    string `json:"departments,omitempty" db:"departments"`
	Industries     string `json:"industries,omitempty" db:"industries"`
	Country        string `json:"country,omitempty" db:"country"`
	Gender         string `json:"gender,omitempty" db:"gender"`
	ProfileSummary string `json:"profile_summary,omitempty" db:"profile_summary"`

	// CompanyID is a weak reference; the company row may be absent.
	CompanyID string `json:"company_id,omitempty" db:"company_id"`

	OptedOut   bool       `json:"opted_out" db:"opted_out"`
	OptedOutAt *time.Time `json:"opted_out_at,omitempty" db:"opted_out_at"`

	Points           int        `json:"points" db:"points"`
	LastActivityAt   *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
	LastActivityType string     `json:"last_activity_type,omitempty" db:"last_activity_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ContactEmail returns the address outreach should use: work email when
// present, personal email otherwise. Empty when the lead is unreachable.
func (l Lead) ContactEmail() string {
	if l.WorkEmail != "" {
		return l.WorkEmail
	}
	return l.Email
}

func (l Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// Company carries the enrichment attributes the context builder reads.
type Company struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	EmployeesAmount string    `json:"employees_amount,omitempty" db:"employees_amount"`
	Technologies    string    `json:"technologies,omitempty" db:"technologies"`
	Industry        string    `json:"industry,omitempty" db:"industry"`
	Country         string    `json:"country,omitempty" db:"country"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
