package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach-engine/internal/activity"
	"outreach-engine/internal/ai"
	"outreach-engine/internal/costs"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/lead"
)

type stubGen struct{}

func (stubGen) GenerateEmail(context.Context, ai.EmailRequest) (ai.EmailResult, error) {
	return ai.EmailResult{Body: "drafted body", Model: "gpt-4o-mini", PromptTokens: 200, CompletionTokens: 150}, nil
}
func (stubGen) ClassifyIntent(context.Context, string, []string) (string, error) {
	return "other", nil
}
func (stubGen) SummarizeThread(context.Context, string) (string, error) { return "", nil }

type stubSender struct {
	mu   sync.Mutex
	sent []string // "leadID/stepID"
	fail bool
}

func (s *stubSender) SendStep(_ context.Context, l lead.Lead, _ Campaign, st Step, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("transport down")
	}
	s.sent = append(s.sent, l.ID+"/"+st.ID)
	return "<" + l.ID + "-" + st.ID + "@test.example>", nil
}

type stubRecorder struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *stubRecorder) RecordEvent(_ context.Context, ev activity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *stubRecorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *stubRecorder) find(kind string) (activity.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return activity.Event{}, false
}

type stubReplies struct {
	mu      sync.Mutex
	intents map[string]string
}

func (s *stubReplies) LatestIntent(_ context.Context, leadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intents[leadID], nil
}

func (s *stubReplies) set(leadID, intent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intents == nil {
		s.intents = map[string]string{}
	}
	s.intents[leadID] = intent
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepo
	drafts  *genqueue.MemoryRepo
	sender  *stubSender
	rec     *stubRecorder
	replies *stubReplies
	now     time.Time
	c       Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		repo:    NewMemoryRepo(),
		drafts:  genqueue.NewMemoryRepo(),
		sender:  &stubSender{},
		rec:     &stubRecorder{},
		replies: &stubReplies{},
		now:     time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), // Wednesday
	}
	fx.drafts.AddLead(lead.Lead{ID: "ada", WorkEmail: "ada@example.com", FirstName: "Ada"})
	fx.drafts.AddLead(lead.Lead{ID: "grace", WorkEmail: "grace@example.com", FirstName: "Grace"})

	drafter := genqueue.NewService(fx.drafts, stubGen{}, costs.NewLedger(costs.NewMemoryRepo()), "gpt-4o-mini")
	fx.svc = NewService(ServiceDeps{
		Repo:    fx.repo,
		Leads:   fx.drafts,
		Drafter: drafter,
		Lookup:  fx.drafts,
		Sender:  fx.sender,
		Rec:     fx.rec,
		Replies: fx.replies,
		Hours:   Hours{From: 9, To: 17, Loc: time.UTC},
	})
	fx.svc.clock = func() time.Time { return fx.now }

	c, err := LoadPreset([]byte(validPreset))
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	fx.c, err = fx.svc.Create(context.Background(), c)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return fx
}

func (fx *fixture) launch(t *testing.T, leadIDs ...string) {
	t.Helper()
	if _, err := fx.svc.Launch(context.Background(), fx.c.ID, leadIDs, ""); err != nil {
		t.Fatalf("Launch: %v", err)
	}
}

func (fx *fixture) tick(t *testing.T) TickReport {
	t.Helper()
	rep, err := fx.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return rep
}

func (fx *fixture) enrollment(t *testing.T, leadID string) Enrollment {
	t.Helper()
	e, err := fx.repo.GetEnrollment(context.Background(), fx.c.ID, leadID)
	if err != nil {
		t.Fatalf("GetEnrollment: %v", err)
	}
	return e
}

func (fx *fixture) decideDraft(t *testing.T, leadID, stepID string, outcome genqueue.Outcome) {
	t.Helper()
	d, err := fx.drafts.FindByLeadStep(context.Background(), leadID, stepID)
	if err != nil {
		t.Fatalf("FindByLeadStep: %v", err)
	}
	if _, err := fx.drafts.Decide(context.Background(), d.ID, outcome, "rev-a", "", fx.now); err != nil {
		t.Fatalf("Decide: %v", err)
	}
}

// parkAtDecision drives a freshly launched lead through the first touch and
// the cool-off delay so it sits at the check-reply decision step.
func (fx *fixture) parkAtDecision(t *testing.T, leadIDs ...string) {
	t.Helper()
	fx.tick(t)
	for _, id := range leadIDs {
		fx.decideDraft(t, id, "first-email", genqueue.OutcomeApproved)
	}
	fx.tick(t)
	fx.now = fx.now.Add(72 * time.Hour)
	fx.tick(t)
	for _, id := range leadIDs {
		if e := fx.enrollment(t, id); e.StepID != "check-reply" {
			t.Fatalf("lead %s at step %s, want check-reply", id, e.StepID)
		}
	}
}

func TestLaunchIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada", "grace")

	c, err := fx.svc.Get(context.Background(), fx.c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != StatusLaunched || c.LaunchedAt == nil {
		t.Fatalf("campaign after launch = %+v", c)
	}
	first := *c.LaunchedAt

	fx.now = fx.now.Add(time.Hour)
	fx.launch(t, "ada", "grace")
	c, _ = fx.svc.Get(context.Background(), fx.c.ID)
	if !c.LaunchedAt.Equal(first) {
		t.Fatalf("relaunch moved launched_at")
	}
	if n, _ := fx.repo.CountEnrollments(context.Background(), fx.c.ID, ""); n != 2 {
		t.Fatalf("enrollments = %d, want 2", n)
	}
}

func TestRelaunchMergesAudienceAndNotes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.svc.Launch(ctx, fx.c.ID, []string{"ada"}, "wave one"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	c, _ := fx.svc.Get(ctx, fx.c.ID)
	if c.AudienceSize != 1 || c.Notes != "wave one" {
		t.Fatalf("after first launch = %+v", c)
	}
	first := *c.LaunchedAt

	// Ada moves off the entry step before the relaunch.
	fx.tick(t)
	before := fx.enrollment(t, "ada")

	fx.now = fx.now.Add(time.Hour)
	if _, err := fx.svc.Launch(ctx, fx.c.ID, []string{"ada", "grace"}, "wave two"); err != nil {
		t.Fatalf("relaunch: %v", err)
	}
	c, _ = fx.svc.Get(ctx, fx.c.ID)
	if c.AudienceSize != 2 {
		t.Fatalf("audience size = %d, want 2", c.AudienceSize)
	}
	if c.Notes != "wave two" {
		t.Fatalf("notes = %q, want wave two", c.Notes)
	}
	if !c.LaunchedAt.Equal(first) {
		t.Fatalf("relaunch moved launched_at")
	}
	// Existing progression is untouched; only grace is new.
	if after := fx.enrollment(t, "ada"); after.StepID != before.StepID || !after.EnteredStepAt.Equal(before.EnteredStepAt) {
		t.Fatalf("relaunch reset ada's enrollment: before=%+v after=%+v", before, after)
	}
	if e := fx.enrollment(t, "grace"); e.StepID != "start" || e.Outcome != OutcomeNone {
		t.Fatalf("grace enrollment = %+v", e)
	}
}

func TestLaunchSkipsOptedOutLeads(t *testing.T) {
	fx := newFixture(t)
	fx.drafts.AddLead(lead.Lead{ID: "gone", WorkEmail: "gone@example.com", OptedOut: true})
	fx.launch(t, "ada", "gone")

	if n, _ := fx.repo.CountEnrollments(context.Background(), fx.c.ID, ""); n != 1 {
		t.Fatalf("enrollments = %d, want opted-out lead skipped", n)
	}
}

func TestLaunchRecordsEnrollmentActivity(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada", "grace")

	if n := fx.rec.count(activity.KindEnrolled); n != 2 {
		t.Fatalf("enrolled events = %d, want 2", n)
	}
	ev, _ := fx.rec.find(activity.KindEnrolled)
	if ev.CampaignID != fx.c.ID {
		t.Fatalf("enrolled event = %+v, want campaign id stamped", ev)
	}

	// Relaunching the same audience must not re-record enrollments.
	fx.launch(t, "ada", "grace")
	if n := fx.rec.count(activity.KindEnrolled); n != 2 {
		t.Fatalf("enrolled events after relaunch = %d, want 2", n)
	}
}

func TestTouchDraftsThenBlocksOnReview(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")

	fx.tick(t)
	e := fx.enrollment(t, "ada")
	if e.StepID != "first-email" {
		t.Fatalf("step = %s, want first-email", e.StepID)
	}
	d, err := fx.drafts.FindByLeadStep(context.Background(), "ada", "first-email")
	if err != nil {
		t.Fatalf("touch step drafted nothing: %v", err)
	}
	if d.Outcome != genqueue.OutcomePending {
		t.Fatalf("draft outcome = %s", d.Outcome)
	}
	ev, ok := fx.rec.find(activity.KindDraftCreated)
	if !ok || ev.CampaignID != fx.c.ID || ev.Metadata["step"] != "first-email" {
		t.Fatalf("draft_created event = %+v ok=%v", ev, ok)
	}

	// Still pending: another tick must not move or send anything.
	rep := fx.tick(t)
	if rep.Sent != 0 || len(fx.sender.sent) != 0 {
		t.Fatalf("pending draft was sent: %+v", rep)
	}
	if fx.enrollment(t, "ada").StepID != "first-email" {
		t.Fatalf("enrollment moved past unreviewed touch")
	}
	if n := fx.rec.count(activity.KindDraftCreated); n != 1 {
		t.Fatalf("draft_created events = %d, want 1", n)
	}
}

func TestApprovedTouchSendsOnceAndAdvances(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.tick(t)
	fx.decideDraft(t, "ada", "first-email", genqueue.OutcomeApproved)

	rep := fx.tick(t)
	if rep.Sent != 1 || len(fx.sender.sent) != 1 || fx.sender.sent[0] != "ada/first-email" {
		t.Fatalf("send report = %+v sent=%v", rep, fx.sender.sent)
	}
	e := fx.enrollment(t, "ada")
	if e.StepID != "cool-off" || e.WaitUntil == nil {
		t.Fatalf("enrollment after send = %+v, want waiting at cool-off", e)
	}
	d, _ := fx.drafts.FindByLeadStep(context.Background(), "ada", "first-email")
	if d.SentMessageID != "<ada-first-email@test.example>" {
		t.Fatalf("sent message id = %q", d.SentMessageID)
	}

	// The wait elapses without crossing another touch; no second send.
	fx.now = fx.now.Add(72 * time.Hour)
	fx.tick(t)
	if len(fx.sender.sent) != 1 {
		t.Fatalf("duplicate send: %v", fx.sender.sent)
	}
}

func TestWorkingHoursDelaySpansWeekend(t *testing.T) {
	fx := newFixture(t)
	fx.now = time.Date(2026, 3, 6, 16, 0, 0, 0, time.UTC) // Friday, an hour before close
	fx.launch(t, "ada")
	fx.tick(t)
	fx.decideDraft(t, "ada", "first-email", genqueue.OutcomeApproved)
	fx.tick(t)

	// 4h of working time: one hour left on Friday, three on Monday morning.
	e := fx.enrollment(t, "ada")
	want := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	if e.StepID != "cool-off" || e.WaitUntil == nil || !e.WaitUntil.Equal(want) {
		t.Fatalf("enrollment = %+v, want waiting until %v", e, want)
	}

	fx.now = time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC)
	fx.tick(t)
	if e := fx.enrollment(t, "ada"); e.StepID != "cool-off" {
		t.Fatalf("released early at %v: %+v", fx.now, e)
	}

	fx.now = want
	fx.tick(t)
	if e := fx.enrollment(t, "ada"); e.StepID != "check-reply" {
		t.Fatalf("enrollment after wait = %+v, want check-reply", e)
	}
}

func TestRejectedTouchSkipsSend(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.tick(t)
	fx.decideDraft(t, "ada", "first-email", genqueue.OutcomeRejected)

	rep := fx.tick(t)
	if rep.Sent != 0 || len(fx.sender.sent) != 0 {
		t.Fatalf("rejected draft was sent")
	}
	if e := fx.enrollment(t, "ada"); e.StepID != "cool-off" {
		t.Fatalf("rejected touch did not advance: %+v", e)
	}
}

func TestSendFailureRetriesNextTick(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.tick(t)
	fx.decideDraft(t, "ada", "first-email", genqueue.OutcomeApproved)

	fx.sender.fail = true
	rep := fx.tick(t)
	if len(rep.Errors) != 1 {
		t.Fatalf("report = %+v, want the send failure surfaced", rep)
	}
	if e := fx.enrollment(t, "ada"); e.StepID != "first-email" {
		t.Fatalf("enrollment moved past a failed send: %+v", e)
	}

	fx.sender.fail = false
	fx.tick(t)
	if len(fx.sender.sent) != 1 {
		t.Fatalf("sends = %v, want exactly one after recovery", fx.sender.sent)
	}
}

func TestDecisionRoutesOnReply(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.parkAtDecision(t, "ada")

	// A reply lands; the next tick routes to the goal.
	replyAt := fx.now.Add(time.Hour)
	l, _ := fx.drafts.Lead(context.Background(), "ada")
	l.LastActivityType = "email_reply"
	l.LastActivityAt = &replyAt
	if err := fx.drafts.UpdateLead(context.Background(), l); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}
	fx.now = fx.now.Add(2 * time.Hour)

	rep := fx.tick(t)
	if rep.Goals != 1 {
		t.Fatalf("report = %+v, want one goal", rep)
	}
	e := fx.enrollment(t, "ada")
	if e.State != EnrollDone {
		t.Fatalf("enrollment = %+v, want done", e)
	}
	if e.Outcome != OutcomeMeetingBooked {
		t.Fatalf("outcome = %s, want meeting_booked", e.Outcome)
	}
	if _, ok := fx.rec.find(activity.KindGoalReached); !ok {
		t.Fatalf("goal activity missing: %+v", fx.rec.events)
	}
}

func TestDecisionRoutesOnIntent(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada", "grace")
	fx.parkAtDecision(t, "ada", "grace")

	fx.replies.set("ada", "asked_question")
	fx.replies.set("grace", "not_interested")
	fx.now = fx.now.Add(time.Hour)
	fx.tick(t)

	if e := fx.enrollment(t, "ada"); e.State != EnrollDone || e.Outcome != OutcomeMeetingBooked {
		t.Fatalf("ada enrollment = %+v, want done via won", e)
	}
	if e := fx.enrollment(t, "grace"); e.State != EnrollExited || e.Outcome != OutcomeDoNotContact {
		t.Fatalf("grace enrollment = %+v, want exited via park", e)
	}
}

func TestUnclassifiedReplyStaysParked(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.parkAtDecision(t, "ada")

	// An intent no rule names matches nothing.
	fx.replies.set("ada", "out_of_office")
	fx.now = fx.now.Add(time.Hour)
	fx.tick(t)
	if e := fx.enrollment(t, "ada"); e.StepID != "check-reply" || e.State != EnrollActive {
		t.Fatalf("enrollment = %+v, want parked at check-reply", e)
	}
}

func TestDecisionFirstMatchWins(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	build := func(rules []Rule) Campaign {
		c, err := fx.svc.Create(ctx, Campaign{Name: "rule order", Steps: []Step{
			{ID: "start", Kind: StepEntry, Next: "fork"},
			{ID: "fork", Kind: StepDecision, Rules: rules},
			{ID: "sales", Kind: StepGoal, GoalName: "pricing call"},
			{ID: "done", Kind: StepExit},
		}})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := fx.svc.Launch(ctx, c.ID, []string{"ada"}, ""); err != nil {
			t.Fatalf("Launch: %v", err)
		}
		return c
	}
	enrollment := func(c Campaign) Enrollment {
		e, err := fx.repo.GetEnrollment(ctx, c.ID, "ada")
		if err != nil {
			t.Fatalf("GetEnrollment: %v", err)
		}
		return e
	}

	// Ada satisfies both rules: a classified reply and recent reply activity.
	fx.replies.set("ada", "pricing_question")
	replyAt := fx.now.Add(time.Minute)
	l, _ := fx.drafts.Lead(ctx, "ada")
	l.LastActivityType = "email_reply"
	l.LastActivityAt = &replyAt
	if err := fx.drafts.UpdateLead(ctx, l); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}

	first := build([]Rule{
		{When: "pricing_question", Then: "sales"},
		{When: CondReplied, Then: "done"},
	})
	fx.now = fx.now.Add(time.Hour)
	fx.tick(t)
	if e := enrollment(first); e.State != EnrollDone || e.StepID != "sales" {
		t.Fatalf("enrollment = %+v, want the first rule's goal", e)
	}

	// Same lead, rules reversed: the reply rule now wins.
	second := build([]Rule{
		{When: CondReplied, Then: "done"},
		{When: "pricing_question", Then: "sales"},
	})
	replyAt = fx.now.Add(time.Minute)
	l.LastActivityAt = &replyAt
	if err := fx.drafts.UpdateLead(ctx, l); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}
	fx.now = fx.now.Add(time.Hour)
	fx.tick(t)
	if e := enrollment(second); e.State != EnrollExited || e.StepID != "done" {
		t.Fatalf("enrollment = %+v, want the reply rule's exit", e)
	}
}

func TestOptedOutLeadExitsAnywhere(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.tick(t)

	l, _ := fx.drafts.Lead(context.Background(), "ada")
	l.OptedOut = true
	if err := fx.drafts.UpdateLead(context.Background(), l); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}

	rep := fx.tick(t)
	if rep.Exited != 1 {
		t.Fatalf("report = %+v, want one exit", rep)
	}
	e := fx.enrollment(t, "ada")
	if e.State != EnrollExited {
		t.Fatalf("enrollment = %+v, want exited", e)
	}
	if e.Outcome != OutcomeDoNotContact {
		t.Fatalf("outcome = %s, want do_not_contact", e.Outcome)
	}
}

func TestPauseStopsRouting(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	if _, err := fx.svc.Pause(context.Background(), fx.c.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	rep := fx.tick(t)
	if rep.Processed != 0 {
		t.Fatalf("paused campaign still processed %d enrollments", rep.Processed)
	}
	if _, err := fx.svc.Resume(context.Background(), fx.c.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rep := fx.tick(t); rep.Processed != 1 {
		t.Fatalf("resume did not restore routing: %+v", rep)
	}
}

func TestPauseFromDraftIsRejected(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.Pause(context.Background(), fx.c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceForcesNextStep(t *testing.T) {
	fx := newFixture(t)
	fx.launch(t, "ada")
	fx.tick(t) // parked at first-email awaiting review

	e, err := fx.svc.Advance(context.Background(), fx.c.ID, "ada")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if e.StepID != "cool-off" {
		t.Fatalf("step = %s, want cool-off", e.StepID)
	}
}
