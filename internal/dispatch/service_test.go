package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"outreach-engine/internal/campaign"
	"outreach-engine/internal/inbound"
	"outreach-engine/internal/lead"
	"outreach-engine/internal/rotation"
)

type captureTransport struct {
	mu   sync.Mutex
	sent []Message
}

func (t *captureTransport) Send(_ context.Context, m Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, m)
	return nil
}

var senders = []rotation.Sender{
	{Name: "Alice", Email: "alice@pool.example"},
	{Name: "Bob", Email: "bob@pool.example"},
}

func newTestService(dailyCap, batchMax int) (*Service, *captureTransport) {
	tr := &captureTransport{}
	rot := rotation.NewService(senders, rotation.NewMemoryStore(), dailyCap, batchMax, time.UTC)
	return NewService(tr, rot, 10000, "mail.example.com"), tr
}

func ada() lead.Lead {
	return lead.Lead{ID: "ada", WorkEmail: "ada@example.com", FirstName: "Ada"}
}

func TestCyclePinsOneSender(t *testing.T) {
	svc, tr := newTestService(300, 5)
	st := campaign.Step{ID: "touch-1", Kind: campaign.StepTouch, Subject: "Quick question"}
	c := campaign.Campaign{Name: "Q1 outreach"}

	for i := 0; i < 3; i++ {
		if _, err := svc.SendStep(context.Background(), ada(), c, st, "hello"); err != nil {
			t.Fatalf("SendStep #%d: %v", i, err)
		}
	}
	if len(tr.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(tr.sent))
	}
	// The whole batch goes out from the sender drawn at the start of the
	// cycle; the rotation only advances between cycles.
	for i, m := range tr.sent {
		if m.From.Email != "alice@pool.example" {
			t.Fatalf("send %d from %s, want the cycle sender", i, m.From.Email)
		}
	}
	m := tr.sent[0]
	if m.To != "ada@example.com" || m.Subject != "Quick question" {
		t.Fatalf("message = %+v", m)
	}
	if !strings.HasPrefix(m.MessageID, "<") || !strings.HasSuffix(m.MessageID, "@mail.example.com>") {
		t.Fatalf("message id = %q", m.MessageID)
	}
}

func TestRotationAdvancesAcrossCycles(t *testing.T) {
	svc, tr := newTestService(300, 5)
	c := campaign.Campaign{Name: "Q1"}
	st := campaign.Step{ID: "t", Subject: "s"}

	want := []string{"alice@pool.example", "bob@pool.example", "alice@pool.example"}
	for i, from := range want {
		svc.BeginCycle()
		if _, err := svc.SendStep(context.Background(), ada(), c, st, "hi"); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if tr.sent[i].From.Email != from {
			t.Fatalf("cycle %d from %s, want %s", i, tr.sent[i].From.Email, from)
		}
	}
}

func TestSendStepFallsBackToCampaignSubject(t *testing.T) {
	svc, tr := newTestService(300, 5)
	c := campaign.Campaign{Name: "Q1 outreach"}
	if _, err := svc.SendStep(context.Background(), ada(), c, campaign.Step{ID: "t"}, "hi"); err != nil {
		t.Fatalf("SendStep: %v", err)
	}
	if tr.sent[0].Subject != "Q1 outreach" {
		t.Fatalf("subject = %q", tr.sent[0].Subject)
	}
}

func TestSendStepReturnsStampedMessageID(t *testing.T) {
	svc, tr := newTestService(300, 5)
	c := campaign.Campaign{Name: "Q1"}
	msgID, err := svc.SendStep(context.Background(), ada(), c, campaign.Step{ID: "t", Subject: "s"}, "hi")
	if err != nil {
		t.Fatalf("SendStep: %v", err)
	}
	if msgID == "" || msgID != tr.sent[0].MessageID {
		t.Fatalf("returned id %q, transported id %q", msgID, tr.sent[0].MessageID)
	}
}

func TestSendReplyThreadsOntoInbound(t *testing.T) {
	svc, tr := newTestService(300, 5)
	msg := inbound.Message{Subject: "RE: re: Quick question", MessageID: "<abc@their.example>"}

	if _, err := svc.SendReply(context.Background(), ada(), msg, "thanks"); err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	m := tr.sent[0]
	if m.Subject != "Re: Quick question" {
		t.Fatalf("subject = %q, want single Re:", m.Subject)
	}
	if m.InReplyTo != "<abc@their.example>" {
		t.Fatalf("in-reply-to = %q", m.InReplyTo)
	}
}

func TestBatchMaxBoundsOneCycle(t *testing.T) {
	svc, tr := newTestService(300, 2)
	c := campaign.Campaign{Name: "Q1"}
	st := campaign.Step{ID: "t", Subject: "s"}

	for i := 0; i < 2; i++ {
		if _, err := svc.SendStep(context.Background(), ada(), c, st, "hi"); err != nil {
			t.Fatalf("SendStep #%d: %v", i, err)
		}
	}
	if _, err := svc.SendStep(context.Background(), ada(), c, st, "hi"); !errors.Is(err, ErrBatchExhausted) {
		t.Fatalf("err = %v, want ErrBatchExhausted", err)
	}
	if len(tr.sent) != 2 {
		t.Fatalf("sent = %d, want batch max", len(tr.sent))
	}

	svc.BeginCycle()
	if _, err := svc.SendStep(context.Background(), ada(), c, st, "hi"); err != nil {
		t.Fatalf("SendStep after new cycle: %v", err)
	}
}

func TestDailyCapBlocksDelivery(t *testing.T) {
	tr := &captureTransport{}
	one := []rotation.Sender{{Name: "Solo", Email: "solo@pool.example"}}
	rot := rotation.NewService(one, rotation.NewMemoryStore(), 1, 5, time.UTC)
	svc := NewService(tr, rot, 10000, "mail.example.com")
	c := campaign.Campaign{Name: "Q1"}
	st := campaign.Step{ID: "t", Subject: "s"}

	if _, err := svc.SendStep(context.Background(), ada(), c, st, "hi"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := svc.SendStep(context.Background(), ada(), c, st, "hi"); err == nil {
		t.Fatalf("second send passed a capped pool")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("transported = %d, want 1", len(tr.sent))
	}
}

func TestReplySubjectNormalization(t *testing.T) {
	cases := map[string]string{
		"Quick question":         "Re: Quick question",
		"Re: Quick question":     "Re: Quick question",
		"RE: re: Fwd: the thing": "Re: the thing",
		"":                       "Re:",
	}
	for in, want := range cases {
		if got := replySubject(in); got != want {
			t.Errorf("replySubject(%q) = %q, want %q", in, got, want)
		}
	}
}
