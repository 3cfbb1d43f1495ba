package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"outreach-engine/internal/campaign"
	"outreach-engine/internal/inbound"
	"outreach-engine/internal/lead"
	"outreach-engine/internal/rotation"
)

// ErrBatchExhausted stops a dispatch cycle at the rotation batch maximum;
// the remaining sends wait for the next cycle.
var ErrBatchExhausted = errors.New("dispatch: batch maximum reached")

// Service turns approved bodies into delivered mail. Each cycle draws one
// sender from the rotation and reuses it for every send in the batch,
// charging its daily budget per send and pacing on a shared rate limiter.
type Service struct {
	transport Transport
	rot       *rotation.Service
	limiter   *rate.Limiter
	domain    string

	mu        sync.Mutex
	cycleSent int
	cycleFrom *rotation.Sender
}

func NewService(transport Transport, rot *rotation.Service, sendsPerSec float64, domain string) *Service {
	if sendsPerSec <= 0 {
		sendsPerSec = 2
	}
	if domain == "" {
		domain = "outreach.local"
	}
	return &Service{
		transport: transport,
		rot:       rot,
		limiter:   rate.NewLimiter(rate.Limit(sendsPerSec), 1),
		domain:    domain,
	}
}

// BeginCycle opens a fresh send budget and releases the cycle's sender, so
// the next send advances the rotation; call it once per tick.
func (s *Service) BeginCycle() {
	s.mu.Lock()
	s.cycleSent = 0
	s.cycleFrom = nil
	s.mu.Unlock()
}

// cycleSender draws the rotation once per cycle and pins the result; every
// send in the batch goes out from the same address.
func (s *Service) cycleSender(ctx context.Context) (rotation.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleFrom != nil {
		return *s.cycleFrom, nil
	}
	sender, err := s.rot.NextSender(ctx)
	if err != nil {
		return rotation.Sender{}, err
	}
	s.cycleFrom = &sender
	return sender, nil
}

func (s *Service) dropCycleSender() {
	s.mu.Lock()
	s.cycleFrom = nil
	s.mu.Unlock()
}

func (s *Service) takeCycleSlot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleSent >= s.rot.BatchMax() {
		return ErrBatchExhausted
	}
	s.cycleSent++
	return nil
}

func (s *Service) returnCycleSlot() {
	s.mu.Lock()
	if s.cycleSent > 0 {
		s.cycleSent--
	}
	s.mu.Unlock()
}

// SendStep delivers an approved campaign touch and returns the Message-ID
// stamped on the outgoing mail.
func (s *Service) SendStep(ctx context.Context, l lead.Lead, c campaign.Campaign, st campaign.Step, body string) (string, error) {
	subject := st.Subject
	if subject == "" {
		subject = c.Name
	}
	return s.send(ctx, l, subject, body, "")
}

// SendReply delivers an approved reply, threaded onto the inbound message,
// and returns the Message-ID of the outgoing mail.
func (s *Service) SendReply(ctx context.Context, l lead.Lead, m inbound.Message, body string) (string, error) {
	return s.send(ctx, l, replySubject(m.Subject), body, m.MessageID)
}

func (s *Service) send(ctx context.Context, l lead.Lead, subject, body, inReplyTo string) (string, error) {
	to := l.ContactEmail()
	if to == "" {
		return "", fmt.Errorf("lead %s has no contact email", l.ID)
	}
	if err := s.takeCycleSlot(); err != nil {
		return "", err
	}

	sender, err := s.cycleSender(ctx)
	if err != nil {
		s.returnCycleSlot()
		return "", err
	}
	if _, err := s.rot.RecordSent(ctx, sender.Email, 1); err != nil {
		s.returnCycleSlot()
		if errors.Is(err, rotation.ErrDailyCapReached) {
			// The pinned sender ran dry; let the next send draw a fresh one.
			s.dropCycleSender()
		}
		return "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg := Message{
		From:      sender,
		To:        to,
		Subject:   subject,
		Body:      body,
		MessageID: newMessageID(s.domain),
		InReplyTo: inReplyTo,
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}
