package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"outreach-engine/internal/config"
)

// HTTPClient speaks the Mautic-style REST contract: upsert-by-email into
// custom fields and delete-by-email. Transient failures are retried with
// exponential backoff inside the call's context deadline.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewHTTPClient(cfg config.CRMConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("crm: base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) UpsertContact(ctx context.Context, u Upsert) error {
	if u.Email == "" {
		return errors.New("crm: upsert requires an email")
	}
	payload := map[string]any{
		"email":            u.Email,
		"firstname":        u.FirstName,
		"lastname":         u.LastName,
		"company":          u.Company,
		"ai_email_2":       u.SuggestedBody,
		"email_2_approval": u.ApprovalStatus,
	}
	return c.retry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/contacts/new", payload, nil)
	})
}

func (c *HTTPClient) DeleteContact(ctx context.Context, email string) error {
	if email == "" {
		return errors.New("crm: delete requires an email")
	}
	var id int
	err := c.retry(ctx, func() error {
		found, ferr := c.findContactID(ctx, email)
		if ferr != nil {
			return ferr
		}
		id = found
		return nil
	})
	if err != nil {
		return err
	}
	if id == 0 {
		// Already absent; delete-by-email is idempotent.
		return nil
	}
	return c.retry(ctx, func() error {
		return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/contacts/%d/delete", id), nil, nil)
	})
}

func (c *HTTPClient) findContactID(ctx context.Context, email string) (int, error) {
	var out struct {
		Contacts map[string]struct {
			ID int `json:"id"`
		} `json:"contacts"`
	}
	path := "/api/contacts?search=" + url.QueryEscape("email:"+email)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	for _, contact := range out.Contacts {
		return contact.ID, nil
	}
	return 0, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("crm: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("crm: status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return backoff.Permanent(fmt.Errorf("crm: decode response: %w", err))
		}
	}
	return nil
}

func (c *HTTPClient) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
