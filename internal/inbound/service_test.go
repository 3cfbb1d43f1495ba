package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"outreach-engine/internal/ai"
	"outreach-engine/internal/approval"
	"outreach-engine/internal/costs"
	"outreach-engine/internal/crm"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/lead"
)

type fakeGen struct {
	label string
}

func (g *fakeGen) GenerateEmail(context.Context, ai.EmailRequest) (ai.EmailResult, error) {
	return ai.EmailResult{Body: "Thanks for getting back to me.", Model: "gpt-4o-mini", PromptTokens: 100, CompletionTokens: 80}, nil
}

func (g *fakeGen) ClassifyIntent(context.Context, string, []string) (string, error) {
	if g.label == "" {
		return "other", nil
	}
	return g.label, nil
}

func (g *fakeGen) SummarizeThread(context.Context, string) (string, error) {
	return "lead replied", nil
}

type fakeMailbox struct {
	mails []Mail
}

func (m *fakeMailbox) FetchNew(context.Context, int) ([]Mail, error) { return m.mails, nil }

type fakeCRM struct {
	deleted []string
}

func (c *fakeCRM) UpsertContact(context.Context, crm.Upsert) error { return nil }

func (c *fakeCRM) DeleteContact(_ context.Context, email string) error {
	c.deleted = append(c.deleted, email)
	return nil
}

type fakeSender struct {
	to   string
	body string
}

func (s *fakeSender) SendReply(_ context.Context, l lead.Lead, _ Message, body string) (string, error) {
	s.to = l.ContactEmail()
	s.body = body
	return "<reply-1@test.example>", nil
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepo
	drafts *genqueue.MemoryRepo
	crm    *fakeCRM
	sender *fakeSender
}

func newFixture(t *testing.T, gen *fakeGen, mails ...Mail) *fixture {
	t.Helper()
	drafts := genqueue.NewMemoryRepo()
	drafts.AddLead(lead.Lead{ID: "ada", Email: "ada@example.com", FirstName: "Ada"})

	drafter := genqueue.NewService(drafts, gen, costs.NewLedger(costs.NewMemoryRepo()), "gpt-4o-mini")
	repo := NewMemoryRepo()
	crmClient := &fakeCRM{}
	sender := &fakeSender{}

	svc := NewService(ServiceDeps{
		Repo:    repo,
		Leads:   drafts,
		Drafts:  drafts,
		Mailbox: &fakeMailbox{mails: mails},
		Gen:     gen,
		Drafter: drafter,
		Sender:  sender,
		CRM:     crmClient,
		Claims:  approval.NewMemoryClaims(),
		Threads: drafts,
	})
	return &fixture{svc: svc, repo: repo, drafts: drafts, crm: crmClient, sender: sender}
}

func mailFrom(id, from, body string) Mail {
	return Mail{
		MessageID:  id,
		From:       from,
		Subject:    "Re: quick note",
		Body:       body,
		ReceivedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestIngestClassifiesAndDraftsReply(t *testing.T) {
	fx := newFixture(t, &fakeGen{label: "interested"},
		mailFrom("<m1@x>", "ada@example.com", "This sounds useful, tell me more."))

	rep, err := fx.svc.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Ingested != 1 {
		t.Fatalf("report = %+v, want 1 ingested", rep)
	}

	msgs, _ := fx.repo.ListPending(context.Background(), 10)
	if len(msgs) != 1 {
		t.Fatalf("pending = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Intent != IntentInterested {
		t.Fatalf("intent = %s, want interested", m.Intent)
	}
	if m.Summary == "" {
		t.Fatalf("summary missing")
	}
	if m.ReplyDraftID == "" {
		t.Fatalf("no suggested reply drafted")
	}
	draft, err := fx.drafts.Get(context.Background(), m.ReplyDraftID)
	if err != nil {
		t.Fatalf("reply draft missing: %v", err)
	}
	if draft.Slot != genqueue.SlotReply || draft.Outcome != genqueue.OutcomePending {
		t.Fatalf("draft = %+v, want pending reply slot", draft)
	}
}

func TestIngestHonorsTextualOptOut(t *testing.T) {
	fx := newFixture(t, &fakeGen{label: "interested"},
		mailFrom("<m1@x>", "ada@example.com", "Please UNSUBSCRIBE me from this."))

	rep, err := fx.svc.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.OptedOut != 1 {
		t.Fatalf("report = %+v, want 1 opted out", rep)
	}

	l, _ := fx.drafts.Lead(context.Background(), "ada")
	if !l.OptedOut || l.OptedOutAt == nil {
		t.Fatalf("lead not opted out: %+v", l)
	}
	msgs, _ := fx.repo.ListPending(context.Background(), 10)
	if msgs[0].Intent != IntentUnsubscribe {
		t.Fatalf("intent = %s, want unsubscribe despite the model label", msgs[0].Intent)
	}
	if msgs[0].ReplyDraftID != "" {
		t.Fatalf("opt-out still got a reply draft")
	}
}

func TestIngestDedupesByMessageID(t *testing.T) {
	fx := newFixture(t, &fakeGen{},
		mailFrom("<m1@x>", "ada@example.com", "hello"))

	if _, err := fx.svc.Ingest(context.Background()); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	rep, err := fx.svc.Ingest(context.Background())
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if rep.Ingested != 0 || rep.Skipped != 1 {
		t.Fatalf("report = %+v, want everything skipped", rep)
	}
}

func TestIngestIgnoresStrangers(t *testing.T) {
	fx := newFixture(t, &fakeGen{},
		mailFrom("<m1@x>", "spam@elsewhere.example", "buy now"))

	rep, err := fx.svc.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Ingested != 0 || rep.Skipped != 1 {
		t.Fatalf("report = %+v, want stranger skipped", rep)
	}
}

func TestIngestLinksByThreadHeaders(t *testing.T) {
	// The reply arrives from an address we never mailed; only the threading
	// headers tie it back to the outbound message.
	m := mailFrom("<m1@x>", "ada@personal.example", "replying from my other inbox")
	m.InReplyTo = "<out-1@test.example>"
	m.References = "<root@test.example> <out-1@test.example>"
	fx := newFixture(t, &fakeGen{label: "interested"}, m)

	ctx := context.Background()
	sent := genqueue.Email{ID: "d1", LeadID: "ada", Slot: genqueue.SlotFirstTouch, StepID: "first-email"}
	if err := fx.drafts.Create(ctx, sent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fx.drafts.MarkSent(ctx, "d1", "<out-1@test.example>", time.Now()); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	rep, err := fx.svc.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Ingested != 1 {
		t.Fatalf("report = %+v, want threaded reply ingested", rep)
	}
	msgs, _ := fx.repo.ListPending(ctx, 10)
	if len(msgs) != 1 || msgs[0].LeadID != "ada" {
		t.Fatalf("messages = %+v, want linked to ada", msgs)
	}
	if msgs[0].InReplyTo != "<out-1@test.example>" || msgs[0].References == "" {
		t.Fatalf("threading headers dropped: %+v", msgs[0])
	}
}

func TestIngestSkipsUnthreadedStrangers(t *testing.T) {
	m := mailFrom("<m1@x>", "spam@elsewhere.example", "buy now")
	m.InReplyTo = "<never-sent@test.example>"
	fx := newFixture(t, &fakeGen{}, m)

	rep, err := fx.svc.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Ingested != 0 || rep.Skipped != 1 {
		t.Fatalf("report = %+v, want unmatched thread skipped", rep)
	}
}

func TestDecideApproveSendsEditedReply(t *testing.T) {
	fx := newFixture(t, &fakeGen{label: "interested"},
		mailFrom("<m1@x>", "ada@example.com", "tell me more"))
	if _, err := fx.svc.Ingest(context.Background()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	msgs, _ := fx.repo.ListPending(context.Background(), 10)

	m, err := fx.svc.Decide(context.Background(), "rev-a", msgs[0].ID, OutcomeApproved, "Hand-tuned reply.")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if m.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %s", m.Outcome)
	}
	if fx.sender.to != "ada@example.com" || fx.sender.body != "Hand-tuned reply." {
		t.Fatalf("sent to=%q body=%q", fx.sender.to, fx.sender.body)
	}
	draft, _ := fx.drafts.Get(context.Background(), m.ReplyDraftID)
	if draft.Outcome != genqueue.OutcomeApproved {
		t.Fatalf("reply draft outcome = %s, want approved", draft.Outcome)
	}
	if draft.SentMessageID != "<reply-1@test.example>" {
		t.Fatalf("sent message id = %q, want the transport's id recorded", draft.SentMessageID)
	}
}

func TestDecideDeleteRemovesContact(t *testing.T) {
	fx := newFixture(t, &fakeGen{label: "other"},
		mailFrom("<m1@x>", "ada@example.com", "wrong person entirely"))
	if _, err := fx.svc.Ingest(context.Background()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	msgs, _ := fx.repo.ListPending(context.Background(), 10)

	if _, err := fx.svc.Decide(context.Background(), "rev-a", msgs[0].ID, OutcomeDeleted, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(fx.crm.deleted) != 1 || fx.crm.deleted[0] != "ada@example.com" {
		t.Fatalf("crm deletions = %v", fx.crm.deleted)
	}
	l, _ := fx.drafts.Lead(context.Background(), "ada")
	if !l.OptedOut {
		t.Fatalf("deleted lead still targetable")
	}
}

func TestDecideIsIdempotentPerOutcome(t *testing.T) {
	fx := newFixture(t, &fakeGen{},
		mailFrom("<m1@x>", "ada@example.com", "hello"))
	if _, err := fx.svc.Ingest(context.Background()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	msgs, _ := fx.repo.ListPending(context.Background(), 10)
	id := msgs[0].ID

	if _, err := fx.svc.Decide(context.Background(), "rev-a", id, OutcomeRejected, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := fx.svc.Decide(context.Background(), "rev-a", id, OutcomeRejected, ""); err != nil {
		t.Fatalf("repeat Decide: %v", err)
	}
	if _, err := fx.svc.Decide(context.Background(), "rev-b", id, OutcomeApproved, ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("conflict err = %v, want ErrAlreadyDecided", err)
	}
}
