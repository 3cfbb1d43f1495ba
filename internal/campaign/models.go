package campaign

import (
	"errors"
	"fmt"
	"time"
)

// Status is the campaign lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusLaunched  Status = "launched"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// StepKind discriminates the step variants. Each kind has its own required
// fields, checked by Validate before a campaign can launch.
type StepKind string

const (
	StepEntry    StepKind = "entry"
	StepTouch    StepKind = "touch"
	StepDelay    StepKind = "delay"
	StepDecision StepKind = "decision"
	StepGoal     StepKind = "goal"
	StepExit     StepKind = "exit"
)

// Condition is a decision-rule predicate. The named constants match on the
// lead's observed behavior; any other value is treated as an intent label and
// matched against the classification of the lead's latest inbound reply
// (for example asked_question, not_interested, booked_meeting).
type Condition string

const (
	CondUnsubscribed  Condition = "unsubscribed"
	CondReplied       Condition = "replied"
	CondOpened        Condition = "opened"
	CondDraftApproved Condition = "draft_approved"
	CondDraftRejected Condition = "draft_rejected"
	CondAlways        Condition = "always"
)

// ExitTarget routes an enrollment out of the campaign instead of to a step.
const ExitTarget = "exit"

// Rule is one decision branch. RefStep scopes the draft_* conditions to a
// specific touch step; the other conditions ignore it.
type Rule struct {
	When    Condition `json:"when" yaml:"when"`
	RefStep string    `json:"ref_step,omitempty" yaml:"ref_step,omitempty"`
	Then    string    `json:"then" yaml:"then"`
}

// Step is one node of the campaign graph. Next is the default successor;
// decision steps route through Rules instead.
type Step struct {
	ID   string   `json:"id" yaml:"id"`
	Kind StepKind `json:"kind" yaml:"kind"`
	Next string   `json:"next,omitempty" yaml:"next,omitempty"`

	// touch
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Subject      string `json:"subject,omitempty" yaml:"subject,omitempty"`

	// delay
	Wait         time.Duration `json:"wait,omitempty" yaml:"wait,omitempty"`
	WorkingHours bool          `json:"working_hours,omitempty" yaml:"working_hours,omitempty"`

	// decision
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`

	// goal and exit
	GoalName string  `json:"goal_name,omitempty" yaml:"goal_name,omitempty"`
	Outcome  Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// Campaign is an outreach sequence over an enrolled audience.
//
// Invariants:
// - Steps form a validated graph: exactly one entry, every Next/Then target
//   resolves, at least one terminal step.
// - LaunchedAt is set on first launch and never reset; re-launching only
//   merges notes and new enrollments.
type Campaign struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Status       Status     `json:"status" db:"status"`
	Category     string     `json:"category,omitempty" db:"category"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	Steps        []Step     `json:"steps" db:"steps"`
	AudienceSize int        `json:"audience_size" db:"audience_size"`
	LaunchedAt   *time.Time `json:"launched_at,omitempty" db:"launched_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// EnrollState tracks where a lead sits relative to the campaign graph.
type EnrollState string

const (
	EnrollActive EnrollState = "active"
	EnrollDone   EnrollState = "done"
	EnrollExited EnrollState = "exited"
)

// Outcome is the terminal disposition of an enrollment. It stays none while
// the enrollment is active and is set exactly once when the lead reaches a
// goal or leaves the campaign.
type Outcome string

const (
	OutcomeNone          Outcome = "none"
	OutcomeMeetingBooked Outcome = "meeting_booked"
	OutcomeNurture       Outcome = "nurture"
	OutcomeDoNotContact  Outcome = "do_not_contact"
)

var validOutcomes = map[Outcome]bool{
	OutcomeMeetingBooked: true,
	OutcomeNurture:       true,
	OutcomeDoNotContact:  true,
}

// Enrollment pins one lead to one position in a campaign.
type Enrollment struct {
	ID         string      `json:"id" db:"id"`
	CampaignID string      `json:"campaign_id" db:"campaign_id"`
	LeadID     string      `json:"lead_id" db:"lead_id"`
	StepID     string      `json:"step_id" db:"step_id"`
	State      EnrollState `json:"state" db:"state"`
	Outcome    Outcome     `json:"outcome" db:"outcome"`

	// WaitUntil gates delay steps; nil means due immediately.
	WaitUntil     *time.Time `json:"wait_until,omitempty" db:"wait_until"`
	EnteredStepAt time.Time  `json:"entered_step_at" db:"entered_step_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Step lookup by id; nil when absent.
func (c *Campaign) Step(id string) *Step {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}

// EntryStep returns the single entry node.
func (c *Campaign) EntryStep() *Step {
	for i := range c.Steps {
		if c.Steps[i].Kind == StepEntry {
			return &c.Steps[i]
		}
	}
	return nil
}

// Validate checks the step graph before a campaign may launch.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return errors.New("campaign: name required")
	}
	if len(c.Steps) == 0 {
		return errors.New("campaign: steps required")
	}

	ids := make(map[string]bool, len(c.Steps))
	entries := 0
	terminals := 0
	for _, st := range c.Steps {
		if st.ID == "" {
			return errors.New("campaign: step id required")
		}
		if ids[st.ID] {
			return fmt.Errorf("campaign: duplicate step id %q", st.ID)
		}
		ids[st.ID] = true
		switch st.Kind {
		case StepEntry:
			entries++
		case StepGoal, StepExit:
			terminals++
		case StepTouch, StepDelay, StepDecision:
		default:
			return fmt.Errorf("campaign: step %q has unknown kind %q", st.ID, st.Kind)
		}
	}
	if entries != 1 {
		return fmt.Errorf("campaign: want exactly one entry step, have %d", entries)
	}
	if terminals == 0 {
		return errors.New("campaign: no goal or exit step")
	}

	resolve := func(stepID, target string) error {
		if target == "" || target == ExitTarget {
			return nil
		}
		if !ids[target] {
			return fmt.Errorf("campaign: step %q routes to unknown step %q", stepID, target)
		}
		return nil
	}

	for _, st := range c.Steps {
		if err := resolve(st.ID, st.Next); err != nil {
			return err
		}
		switch st.Kind {
		case StepEntry:
			if st.Next == "" {
				return fmt.Errorf("campaign: entry step %q needs a next step", st.ID)
			}
		case StepTouch:
			if st.Instructions == "" {
				return fmt.Errorf("campaign: touch step %q needs instructions", st.ID)
			}
		case StepDelay:
			if st.Wait <= 0 {
				return fmt.Errorf("campaign: delay step %q needs a positive wait", st.ID)
			}
		case StepGoal, StepExit:
			if st.Outcome != "" && !validOutcomes[st.Outcome] {
				return fmt.Errorf("campaign: step %q has unknown outcome %q", st.ID, st.Outcome)
			}
		case StepDecision:
			if len(st.Rules) == 0 {
				return fmt.Errorf("campaign: decision step %q needs rules", st.ID)
			}
			for _, r := range st.Rules {
				if r.When == "" {
					return fmt.Errorf("campaign: step %q has a rule without a condition", st.ID)
				}
				if r.Then == "" {
					return fmt.Errorf("campaign: step %q has a rule without a target", st.ID)
				}
				if err := resolve(st.ID, r.Then); err != nil {
					return err
				}
				if (r.When == CondDraftApproved || r.When == CondDraftRejected) && r.RefStep != "" && !ids[r.RefStep] {
					return fmt.Errorf("campaign: step %q references unknown step %q", st.ID, r.RefStep)
				}
			}
		}
	}
	return nil
}
