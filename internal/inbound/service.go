package inbound

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/ai"
	"outreach-engine/internal/approval"
	"outreach-engine/internal/crm"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/lead"
)

var (
	ErrNotFound       = errors.New("inbound: message not found")
	ErrAlreadyDecided = errors.New("inbound: message already decided")
	ErrQueueEmpty     = errors.New("inbound: queue empty")
)

// unsubscribePattern short-circuits classification: a textual opt-out is
// honored no matter what the model would say.
var unsubscribePattern = regexp.MustCompile(`(?i)\b(unsubscribe|stop|opt\s?out|remove me)\b`)

// Repository is the inbound message store contract.
type Repository interface {
	Create(ctx context.Context, m Message) error
	Get(ctx context.Context, id string) (Message, error)
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	ListPending(ctx context.Context, limit int) ([]Message, error)
	CountPending(ctx context.Context) (int, error)
	// Decide transitions a pending message once; repeating the same outcome
	// is a no-op and a conflicting one returns ErrAlreadyDecided.
	Decide(ctx context.Context, id string, outcome Outcome, decidedBy string, at time.Time) (Message, error)
}

// LeadStore is the slice of the lead store ingestion needs.
type LeadStore interface {
	LeadByEmail(ctx context.Context, email string) (lead.Lead, error)
	Lead(ctx context.Context, id string) (lead.Lead, error)
	UpdateLead(ctx context.Context, l lead.Lead) error
}

// Drafter produces the suggested reply draft for an inbound thread.
type Drafter interface {
	DraftReply(ctx context.Context, l lead.Lead, threadText string) (genqueue.Email, error)
}

// ReplySender dispatches an approved reply and returns the Message-ID of
// the outgoing mail. Nil means approval only records the verdict and
// something downstream picks the draft up.
type ReplySender interface {
	SendReply(ctx context.Context, l lead.Lead, m Message, body string) (string, error)
}

// ThreadLookup resolves an outbound draft by the Message-ID it was sent
// under, so replies can be tied to a lead even when the From address is not
// in the lead store.
type ThreadLookup interface {
	FindBySentMessageID(ctx context.Context, messageID string) (genqueue.Email, error)
}

// Recorder appends lead activity events.
type Recorder interface {
	Record(ctx context.Context, leadID, kind string) error
}

// IngestReport summarizes one mailbox pass.
type IngestReport struct {
	Fetched   int      `json:"fetched"`
	Ingested  int      `json:"ingested"`
	OptedOut  int      `json:"opted_out"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// Item is a claimed inbound message plus review context.
type Item struct {
	Message    Message        `json:"message"`
	Lead       lead.Lead      `json:"lead"`
	ReplyDraft genqueue.Email `json:"reply_draft,omitempty"`
	Remaining  int            `json:"remaining"`
}

const (
	fetchLimit     = 50
	claimScanLimit = 25
)

// Service ingests inbound replies and serves their review queue.
type Service struct {
	repo    Repository
	leads   LeadStore
	drafts  approval.DraftStore
	mailbox Mailbox
	gen     ai.Generator
	drafter Drafter
	sender  ReplySender
	threads ThreadLookup
	crm     crm.Client
	claims  approval.ClaimStore
	rec     Recorder

	claimTTL time.Duration
	clock    func() time.Time
}

type ServiceDeps struct {
	Repo    Repository
	Leads   LeadStore
	Drafts  approval.DraftStore
	Mailbox Mailbox
	Gen     ai.Generator
	Drafter Drafter
	Sender  ReplySender
	Threads ThreadLookup
	CRM     crm.Client
	Claims  approval.ClaimStore
	Rec     Recorder

	ClaimTTL time.Duration
}

func NewService(d ServiceDeps) *Service {
	ttl := d.ClaimTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo: d.Repo, leads: d.Leads, drafts: d.Drafts, mailbox: d.Mailbox,
		gen: d.Gen, drafter: d.Drafter, sender: d.Sender, threads: d.Threads,
		crm: d.CRM, claims: d.Claims, rec: d.Rec, claimTTL: ttl, clock: time.Now,
	}
}

// Ingest pulls fresh mail, classifies each reply, and enqueues review items.
// A nil mailbox or an empty pull is a quiet no-op. Per-mail failures are
// collected, not fatal.
func (s *Service) Ingest(ctx context.Context) (IngestReport, error) {
	var rep IngestReport
	if s.mailbox == nil {
		return rep, nil
	}
	mails, err := s.mailbox.FetchNew(ctx, fetchLimit)
	if err != nil {
		return rep, fmt.Errorf("fetch mail: %w", err)
	}
	rep.Fetched = len(mails)

	for _, m := range mails {
		if ctx.Err() != nil {
			break
		}
		switch err := s.ingestOne(ctx, m, &rep); {
		case err == nil:
		case errors.Is(err, errSkip):
			rep.Skipped++
		default:
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", m.MessageID, err))
		}
	}
	return rep, nil
}

var errSkip = errors.New("skip")

func (s *Service) ingestOne(ctx context.Context, m Mail, rep *IngestReport) error {
	if m.MessageID != "" {
		if seen, err := s.repo.ExistsByMessageID(ctx, m.MessageID); err != nil {
			return err
		} else if seen {
			return errSkip
		}
	}

	l, err := s.leads.LeadByEmail(ctx, m.From)
	if errors.Is(err, genqueue.ErrNotFound) {
		// The From address is unknown; the threading headers may still tie
		// the reply to an outbound mail of ours.
		l, err = s.leadByThread(ctx, m)
	}
	if err != nil {
		if errors.Is(err, genqueue.ErrNotFound) {
			// Mail from strangers is not outreach traffic.
			return errSkip
		}
		return err
	}

	thread := threadText(m)
	intent := s.classify(ctx, thread)

	now := s.clock().UTC()
	msg := Message{
		ID:         uuid.NewString(),
		LeadID:     l.ID,
		FromEmail:  m.From,
		Subject:    m.Subject,
		Body:       m.Body,
		MessageID:  m.MessageID,
		InReplyTo:  m.InReplyTo,
		References: m.References,
		Intent:     intent,
		Outcome:    OutcomePending,
		ReceivedAt: m.ReceivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.gen != nil {
		if sum, err := s.gen.SummarizeThread(ctx, thread); err == nil {
			msg.Summary = sum
		}
	}

	// Disinterest and opt-outs never get a suggested reply drafted.
	if intent != IntentUnsubscribe && intent != IntentNotInterested && s.drafter != nil {
		if draft, err := s.drafter.DraftReply(ctx, l, thread); err == nil {
			msg.ReplyDraftID = draft.ID
		} else if !errors.Is(err, genqueue.ErrDraftExists) {
			return fmt.Errorf("draft reply: %w", err)
		}
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return err
	}
	rep.Ingested++

	s.record(ctx, l.ID, "email_reply")

	if intent == IntentUnsubscribe && !l.OptedOut {
		l.OptedOut = true
		t := now
		l.OptedOutAt = &t
		l.UpdatedAt = now
		if err := s.leads.UpdateLead(ctx, l); err != nil {
			return fmt.Errorf("opt out lead: %w", err)
		}
		rep.OptedOut++
	}
	return nil
}

// leadByThread resolves the lead through In-Reply-To and References: when
// any referenced Message-ID matches a mail we sent, the reply belongs to
// that draft's lead. References are tried newest first.
func (s *Service) leadByThread(ctx context.Context, m Mail) (lead.Lead, error) {
	if s.threads == nil {
		return lead.Lead{}, genqueue.ErrNotFound
	}
	for _, id := range threadMessageIDs(m) {
		draft, err := s.threads.FindBySentMessageID(ctx, id)
		if errors.Is(err, genqueue.ErrNotFound) {
			continue
		}
		if err != nil {
			return lead.Lead{}, err
		}
		return s.leads.Lead(ctx, draft.LeadID)
	}
	return lead.Lead{}, genqueue.ErrNotFound
}

// threadMessageIDs lists the candidate outbound Message-IDs in a reply's
// headers, In-Reply-To first, then References right to left.
func threadMessageIDs(m Mail) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		id := strings.TrimSpace(raw)
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(m.InReplyTo)
	refs := strings.Fields(m.References)
	for i := len(refs) - 1; i >= 0; i-- {
		add(refs[i])
	}
	return out
}

func (s *Service) classify(ctx context.Context, thread string) Intent {
	if unsubscribePattern.MatchString(thread) {
		return IntentUnsubscribe
	}
	if s.gen == nil {
		return IntentOther
	}
	label, err := s.gen.ClassifyIntent(ctx, thread, AllowedIntents)
	if err != nil {
		return IntentOther
	}
	for _, allowed := range AllowedIntents {
		if label == allowed {
			return Intent(label)
		}
	}
	return IntentOther
}

// Next claims the oldest pending inbound message for a reviewer. Semantics
// mirror the outbound review queue.
func (s *Service) Next(ctx context.Context, reviewer string) (Item, error) {
	if reviewer == "" {
		return Item{}, approval.ErrReviewerRequired
	}
	pending, err := s.repo.ListPending(ctx, claimScanLimit)
	if err != nil {
		return Item{}, err
	}
	for _, m := range pending {
		ok, err := s.claims.Acquire(ctx, "inbound:"+m.ID, reviewer, s.claimTTL)
		if err != nil {
			return Item{}, err
		}
		if !ok {
			continue
		}
		cur, err := s.repo.Get(ctx, m.ID)
		if err != nil || cur.Outcome != OutcomePending {
			_ = s.claims.Release(ctx, "inbound:"+m.ID, reviewer)
			continue
		}
		return s.buildItem(ctx, cur)
	}
	return Item{}, ErrQueueEmpty
}

func (s *Service) buildItem(ctx context.Context, m Message) (Item, error) {
	it := Item{Message: m}
	if l, err := s.leads.Lead(ctx, m.LeadID); err == nil {
		it.Lead = l
	}
	if m.ReplyDraftID != "" && s.drafts != nil {
		if d, err := s.drafts.Get(ctx, m.ReplyDraftID); err == nil {
			it.ReplyDraft = d
		}
	}
	if n, err := s.repo.CountPending(ctx); err == nil {
		it.Remaining = n
	}
	return it, nil
}

// Decide records a reviewer verdict on an inbound message.
//
// approved: the suggested reply (with any edit) is marked approved and, when
// a sender is wired, dispatched.
// rejected: the reply draft is rejected; the lead stays.
// deleted: the contact is removed from the CRM and the lead is opted out so
// no step ever targets it again.
func (s *Service) Decide(ctx context.Context, reviewer, messageID string, outcome Outcome, editedBody string) (Message, error) {
	if reviewer == "" {
		return Message{}, approval.ErrReviewerRequired
	}
	switch outcome {
	case OutcomeApproved, OutcomeRejected, OutcomeDeleted:
	default:
		return Message{}, approval.ErrUnknownDecision
	}

	m, err := s.repo.Decide(ctx, messageID, outcome, reviewer, s.clock().UTC())
	if err != nil {
		return m, err
	}
	_ = s.claims.Release(ctx, "inbound:"+messageID, reviewer)

	switch outcome {
	case OutcomeApproved:
		return m, s.handleApproved(ctx, m, reviewer, editedBody)
	case OutcomeRejected:
		if m.ReplyDraftID != "" && s.drafts != nil {
			if _, err := s.drafts.Decide(ctx, m.ReplyDraftID, genqueue.OutcomeRejected, reviewer, "", s.clock().UTC()); err != nil && !errors.Is(err, genqueue.ErrAlreadyDecided) {
				return m, err
			}
		}
	case OutcomeDeleted:
		return m, s.handleDeleted(ctx, m, reviewer)
	}
	return m, nil
}

func (s *Service) handleApproved(ctx context.Context, m Message, reviewer, editedBody string) error {
	if m.ReplyDraftID == "" || s.drafts == nil {
		return nil
	}
	draft, err := s.drafts.Decide(ctx, m.ReplyDraftID, genqueue.OutcomeApproved, reviewer, editedBody, s.clock().UTC())
	if err != nil && !errors.Is(err, genqueue.ErrAlreadyDecided) {
		return err
	}
	if s.sender == nil {
		return nil
	}
	l, err := s.leads.Lead(ctx, m.LeadID)
	if err != nil {
		return err
	}
	msgID, err := s.sender.SendReply(ctx, l, m, draft.ReviewBody())
	if err != nil {
		return err
	}
	if msgID != "" {
		_ = s.drafts.MarkSent(ctx, draft.ID, msgID, s.clock().UTC())
	}
	return nil
}

func (s *Service) handleDeleted(ctx context.Context, m Message, reviewer string) error {
	if m.ReplyDraftID != "" && s.drafts != nil {
		if _, err := s.drafts.Decide(ctx, m.ReplyDraftID, genqueue.OutcomeRejected, reviewer, "", s.clock().UTC()); err != nil && !errors.Is(err, genqueue.ErrAlreadyDecided) {
			return err
		}
	}
	if s.crm != nil {
		if err := s.crm.DeleteContact(ctx, m.FromEmail); err != nil {
			return fmt.Errorf("crm delete: %w", err)
		}
	}
	l, err := s.leads.Lead(ctx, m.LeadID)
	if err != nil {
		return nil
	}
	if !l.OptedOut {
		now := s.clock().UTC()
		l.OptedOut = true
		l.OptedOutAt = &now
		l.UpdatedAt = now
		return s.leads.UpdateLead(ctx, l)
	}
	return nil
}

func (s *Service) record(ctx context.Context, leadID, kind string) {
	if s.rec != nil {
		_ = s.rec.Record(ctx, leadID, kind)
	}
}

func threadText(m Mail) string {
	var b strings.Builder
	if m.Subject != "" {
		b.WriteString("Subject: ")
		b.WriteString(m.Subject)
		b.WriteString("\n\n")
	}
	b.WriteString(m.Body)
	return b.String()
}
