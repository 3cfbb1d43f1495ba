package campaign

import (
	"strings"
	"testing"
	"time"
)

const validPreset = `
name: Cold outreach Q1
category: cold_outreach
notes: engineering leaders
steps:
  - id: start
    kind: entry
    next: first-email
  - id: first-email
    kind: touch
    instructions: Introduce the platform briefly.
    next: cool-off
  - id: cool-off
    kind: delay
    wait: 4h
    working_hours: true
    next: check-reply
  - id: check-reply
    kind: decision
    rules:
      - when: asked_question
        then: won
      - when: replied
        then: won
      - when: not_interested
        then: park
      - when: unsubscribed
        then: exit
  - id: won
    kind: goal
    goal_name: conversation started
  - id: park
    kind: exit
    outcome: do_not_contact
`

func TestLoadPreset(t *testing.T) {
	c, err := LoadPreset([]byte(validPreset))
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	if c.Name != "Cold outreach Q1" || c.Status != StatusDraft {
		t.Fatalf("campaign = %+v", c)
	}
	if c.Category != "cold_outreach" {
		t.Fatalf("category = %q", c.Category)
	}
	if len(c.Steps) != 6 {
		t.Fatalf("steps = %d, want 6", len(c.Steps))
	}
	delay := c.Step("cool-off")
	if delay.Wait != 4*time.Hour || !delay.WorkingHours {
		t.Fatalf("delay step = %+v", delay)
	}
	if park := c.Step("park"); park.Outcome != OutcomeDoNotContact {
		t.Fatalf("exit step = %+v", park)
	}
	if c.EntryStep().ID != "start" {
		t.Fatalf("entry = %q", c.EntryStep().ID)
	}
}

func TestLoadPresetRejectsUnknownTarget(t *testing.T) {
	bad := strings.Replace(validPreset, "then: park", "then: nowhere", 1)
	if _, err := LoadPreset([]byte(bad)); err == nil || !strings.Contains(err.Error(), "nowhere") {
		t.Fatalf("err = %v, want unknown-target failure", err)
	}
}

func TestLoadPresetRejectsBadWait(t *testing.T) {
	bad := strings.Replace(validPreset, "wait: 4h", "wait: two days", 1)
	if _, err := LoadPreset([]byte(bad)); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestLoadPresetRejectsEmptyCondition(t *testing.T) {
	bad := strings.Replace(validPreset, "when: replied", `when: ""`, 1)
	if _, err := LoadPreset([]byte(bad)); err == nil {
		t.Fatalf("rule without a condition accepted")
	}
}

func TestLoadPresetRejectsBadOutcome(t *testing.T) {
	bad := strings.Replace(validPreset, "outcome: do_not_contact", "outcome: maybe_later", 1)
	if _, err := LoadPreset([]byte(bad)); err == nil || !strings.Contains(err.Error(), "maybe_later") {
		t.Fatalf("err = %v, want unknown-outcome failure", err)
	}
}

func TestLoadPresetRejectsMissingTerminal(t *testing.T) {
	const bad = `
name: endless
steps:
  - id: start
    kind: entry
    next: hold
  - id: hold
    kind: delay
    wait: 1h
    next: hold
`
	if _, err := LoadPreset([]byte(bad)); err == nil {
		t.Fatalf("graph without terminal accepted")
	}
}

func TestValidateRequiresSingleEntry(t *testing.T) {
	c, err := LoadPreset([]byte(validPreset))
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	c.Steps = append(c.Steps, Step{ID: "start2", Kind: StepEntry, Next: "first-email"})
	if err := c.Validate(); err == nil {
		t.Fatalf("second entry step accepted")
	}
}
