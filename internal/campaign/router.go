package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach-engine/internal/activity"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/lead"
)

// maxHops caps in-tick cascading so a cyclic graph cannot spin the router.
const maxHops = 10

const tickBatch = 100

// TickReport summarizes one router pass over all launched campaigns.
type TickReport struct {
	Campaigns int      `json:"campaigns"`
	Processed int      `json:"processed"`
	Advanced  int      `json:"advanced"`
	Sent      int      `json:"sent"`
	Goals     int      `json:"goals"`
	Exited    int      `json:"exited"`
	Errors    []string `json:"errors,omitempty"`
}

// Tick advances every due enrollment of every launched campaign by as many
// steps as its conditions allow right now. One enrollment's failure is
// reported and skipped, never fatal to the pass.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	campaigns, err := s.repo.ListCampaigns(ctx, StatusLaunched)
	if err != nil {
		return rep, err
	}
	rep.Campaigns = len(campaigns)

	now := s.clock().UTC()
	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		due, err := s.repo.DueEnrollments(ctx, c.ID, now, tickBatch)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("campaign %s: %v", c.ID, err))
			continue
		}
		for _, e := range due {
			if ctx.Err() != nil {
				break
			}
			rep.Processed++
			if err := s.processEnrollment(ctx, c, e, &rep); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("enrollment %s: %v", e.ID, err))
			}
		}
	}
	return rep, nil
}

func (s *Service) processEnrollment(ctx context.Context, c Campaign, e Enrollment, rep *TickReport) error {
	l, err := s.leads.Lead(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("lead %s: %w", e.LeadID, err)
	}

	// An opted-out lead leaves the campaign no matter which step holds it.
	if l.OptedOut {
		e.Outcome = OutcomeDoNotContact
		s.moveTo(&e, ExitTarget, s.clock().UTC())
		rep.Exited++
		return s.repo.UpdateEnrollment(ctx, e)
	}

	orig := e
	for hop := 0; hop < maxHops && e.State == EnrollActive; hop++ {
		st := c.Step(e.StepID)
		if st == nil {
			return fmt.Errorf("unknown step %q", e.StepID)
		}
		moved, err := s.runStep(ctx, c, st, &e, l, rep)
		if err != nil {
			return err
		}
		if !moved {
			break
		}
		rep.Advanced++
	}
	if e.State == EnrollExited {
		rep.Exited++
	}
	if e.State == EnrollDone {
		rep.Goals++
	}

	if e.StepID == orig.StepID && e.State == orig.State && equalTimePtr(e.WaitUntil, orig.WaitUntil) {
		return nil
	}
	return s.repo.UpdateEnrollment(ctx, e)
}

// runStep executes the enrollment's current step once. It returns true when
// the enrollment moved and the loop should continue with the new step.
func (s *Service) runStep(ctx context.Context, c Campaign, st *Step, e *Enrollment, l lead.Lead, rep *TickReport) (bool, error) {
	now := s.clock().UTC()
	switch st.Kind {
	case StepEntry:
		s.moveTo(e, st.Next, now)
		return true, nil

	case StepTouch:
		return s.runTouch(ctx, c, st, e, l, rep)

	case StepDelay:
		if e.WaitUntil == nil {
			target := now.Add(st.Wait)
			if st.WorkingHours {
				target = s.hours.Add(now, st.Wait)
			}
			e.WaitUntil = &target
			e.UpdatedAt = now
			return false, nil
		}
		if e.WaitUntil.After(now) {
			return false, nil
		}
		e.WaitUntil = nil
		s.moveTo(e, st.Next, now)
		return true, nil

	case StepDecision:
		target, matched, err := s.evaluate(ctx, st, *e, l)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
		s.moveTo(e, target, now)
		return true, nil

	case StepGoal:
		if s.rec != nil {
			_ = s.rec.RecordEvent(ctx, activity.Event{
				LeadID:     l.ID,
				CampaignID: c.ID,
				Kind:       activity.KindGoalReached,
				Metadata:   map[string]string{"step": st.ID, "goal": st.GoalName},
			})
		}
		e.Outcome = st.Outcome
		if e.Outcome == "" {
			e.Outcome = OutcomeMeetingBooked
		}
		e.State = EnrollDone
		e.UpdatedAt = now
		return false, nil

	case StepExit:
		e.Outcome = st.Outcome
		if e.Outcome == "" {
			e.Outcome = OutcomeNurture
		}
		e.State = EnrollExited
		e.UpdatedAt = now
		return false, nil
	}
	return false, fmt.Errorf("unknown step kind %q", st.Kind)
}

// runTouch drafts on first visit, then blocks until a reviewer decides.
// Approved drafts are sent exactly once; rejected ones skip the send.
func (s *Service) runTouch(ctx context.Context, c Campaign, st *Step, e *Enrollment, l lead.Lead, rep *TickReport) (bool, error) {
	draft, err := s.lookup.FindByLeadStep(ctx, l.ID, st.ID)
	if errors.Is(err, genqueue.ErrNotFound) {
		if _, err := s.drafter.DraftForStep(ctx, l, c.ID, st.ID, st.Instructions); err != nil && !errors.Is(err, genqueue.ErrDraftExists) {
			return false, fmt.Errorf("draft step %s: %w", st.ID, err)
		}
		if s.rec != nil {
			_ = s.rec.RecordEvent(ctx, activity.Event{
				LeadID:     l.ID,
				CampaignID: c.ID,
				Kind:       activity.KindDraftCreated,
				Metadata:   map[string]string{"step": st.ID},
			})
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch draft.Outcome {
	case genqueue.OutcomePending:
		return false, nil
	case genqueue.OutcomeRejected:
		s.moveTo(e, st.Next, s.clock().UTC())
		return true, nil
	case genqueue.OutcomeApproved:
		msgID, err := s.sender.SendStep(ctx, l, c, *st, draft.ReviewBody())
		if err != nil {
			// Cap pressure or transport trouble; the next tick retries.
			return false, fmt.Errorf("send step %s: %w", st.ID, err)
		}
		if msgID != "" {
			_ = s.lookup.MarkSent(ctx, draft.ID, msgID, s.clock().UTC())
		}
		rep.Sent++
		if s.rec != nil {
			_ = s.rec.RecordEvent(ctx, activity.Event{
				LeadID:     l.ID,
				CampaignID: c.ID,
				Kind:       activity.KindEmailSent,
				Metadata:   map[string]string{"step": st.ID},
			})
		}
		s.moveTo(e, st.Next, s.clock().UTC())
		return true, nil
	}
	return false, fmt.Errorf("draft %s in unexpected outcome %q", draft.ID, draft.Outcome)
}

// evaluate applies decision rules in order; the first matching rule wins.
// An explicit opt-out routes to exit before any rule is read.
func (s *Service) evaluate(ctx context.Context, st *Step, e Enrollment, l lead.Lead) (string, bool, error) {
	if l.OptedOut {
		return ExitTarget, true, nil
	}
	for _, r := range st.Rules {
		ok, err := s.condition(ctx, r, e, l)
		if err != nil {
			return "", false, err
		}
		if ok {
			return r.Then, true, nil
		}
	}
	return "", false, nil
}

func (s *Service) condition(ctx context.Context, r Rule, e Enrollment, l lead.Lead) (bool, error) {
	switch r.When {
	case CondAlways:
		return true, nil
	case CondUnsubscribed:
		return l.OptedOut, nil
	case CondReplied:
		return activitySince(l, "email_reply", e.CreatedAt), nil
	case CondOpened:
		return activitySince(l, "email_open", e.CreatedAt), nil
	case CondDraftApproved, CondDraftRejected:
		if r.RefStep == "" {
			return false, nil
		}
		draft, err := s.lookup.FindByLeadStep(ctx, l.ID, r.RefStep)
		if errors.Is(err, genqueue.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if r.When == CondDraftApproved {
			return draft.Outcome == genqueue.OutcomeApproved, nil
		}
		return draft.Outcome == genqueue.OutcomeRejected, nil
	}

	// Anything else is an intent label, matched against the classification
	// of the lead's latest inbound reply. A lead with no reply on record
	// matches nothing and stays parked at the decision step.
	if s.replies == nil {
		return false, nil
	}
	intent, err := s.replies.LatestIntent(ctx, l.ID)
	if err != nil {
		return false, err
	}
	return intent != "" && intent == string(r.When), nil
}

func (s *Service) moveTo(e *Enrollment, target string, now time.Time) {
	if target == "" || target == ExitTarget {
		e.State = EnrollExited
		if e.Outcome == "" || e.Outcome == OutcomeNone {
			e.Outcome = OutcomeNurture
		}
	} else {
		e.StepID = target
		e.EnteredStepAt = now
	}
	e.WaitUntil = nil
	e.UpdatedAt = now
}

func activitySince(l lead.Lead, kind string, since time.Time) bool {
	return l.LastActivityType == kind && l.LastActivityAt != nil && l.LastActivityAt.After(since)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
