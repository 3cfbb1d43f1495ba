package activity

import "time"

// Kinds the engine records. Points follow the scoring the CRM uses to rank
// engaged leads; unsent kinds score zero and only leave a trail.
const (
	KindEnrolled     = "campaign_enrolled"
	KindDraftCreated = "draft_created"
	KindEmailSent    = "email_sent"
	KindEmailOpen    = "email_open"
	KindEmailReply   = "email_reply"
	KindGoalReached  = "goal_reached"
)

var kindPoints = map[string]int{
	KindEnrolled:     0,
	KindDraftCreated: 0,
	KindEmailSent:    0,
	KindEmailOpen:    1,
	KindEmailReply:   5,
	KindGoalReached:  10,
}

// PointsFor returns the score delta for a kind; unknown kinds score zero.
func PointsFor(kind string) int { return kindPoints[kind] }

// Event is one recorded lead activity. CampaignID and Metadata are optional
// context: which campaign drove the event and kind-specific detail such as
// the step id.
type Event struct {
	ID         string            `json:"id" db:"id"`
	LeadID     string            `json:"lead_id" db:"lead_id"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	Kind       string            `json:"kind" db:"kind"`
	Points     int               `json:"points" db:"points"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}
