package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"outreach-engine/internal/activity"
	"outreach-engine/internal/approval"
	"outreach-engine/internal/auth"
	"outreach-engine/internal/campaign"
	"outreach-engine/internal/dispatch"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/inbound"
	"outreach-engine/internal/metrics"
	"outreach-engine/internal/rotation"
	"outreach-engine/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Queue     *genqueue.Service
	Approval  *approval.Service
	Inbound   *inbound.Service
	Campaigns *campaign.Service
	Rotation  *rotation.Service
	Dispatch  *dispatch.Service
	Activity  *activity.Service
}

// --- Auth ---

type loginRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Name       string `json:"name"`
}

// Login issues a reviewer session token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ReviewerID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reviewer_id required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.ReviewerID, req.Name)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Generation queue ---

type generateRequest struct {
	MaxCount int `json:"max_count"`
}

func (h Handlers) GenerateBatch(c *gin.Context) {
	var req generateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	res, err := h.Queue.GenerateBatch(c.Request.Context(), req.MaxCount)
	if err != nil {
		logger.FromGin(c).Error("generate batch failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		return
	}
	metrics.DraftsGenerated.Add(float64(res.Generated))
	metrics.GenerationFailures.Add(float64(len(res.Errors)))
	metrics.SpendMicroUSD.Add(float64(res.TotalCostMicroUSD))
	c.JSON(http.StatusOK, res)
}

func (h Handlers) QueueStats(c *gin.Context) {
	st, err := h.Queue.QueueStats(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Review queue ---

func (h Handlers) ApprovalNext(c *gin.Context) {
	reviewer, err := auth.ReviewerID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reviewer required"})
		return
	}
	it, err := h.Approval.Next(c.Request.Context(), reviewer)
	if errors.Is(err, approval.ErrQueueEmpty) {
		c.JSON(http.StatusOK, gin.H{"empty": true})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue read failed"})
		return
	}
	c.JSON(http.StatusOK, it)
}

type decisionRequest struct {
	EmailID    string           `json:"email_id"`
	Decision   string           `json:"decision"`
	EditedBody string           `json:"edited_body"`
	Scores     *genqueue.Scores `json:"scores"`
}

func (h Handlers) ApprovalDecision(c *gin.Context) {
	reviewer, err := auth.ReviewerID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reviewer required"})
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.EmailID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email_id required"})
		return
	}
	d, err := approval.ParseDecision(req.Decision)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Approval.Decide(c.Request.Context(), reviewer, req.EmailID, d, req.EditedBody, req.Scores)
	switch {
	case errors.Is(err, approval.ErrBadScores):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "scores out of range"})
		return
	case errors.Is(err, genqueue.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	case errors.Is(err, genqueue.ErrAlreadyDecided):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already decided", "email": res.Email})
		return
	case err != nil:
		logger.FromGin(c).Error("decision failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "decision failed"})
		return
	}
	metrics.Decisions.WithLabelValues(string(res.Email.Outcome)).Inc()
	if res.SyncError != "" {
		metrics.CRMSyncFailures.Inc()
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) RetrySync(c *gin.Context) {
	rep, err := h.Approval.RetrySync(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// --- Inbound queue ---

func (h Handlers) InboundNext(c *gin.Context) {
	reviewer, err := auth.ReviewerID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reviewer required"})
		return
	}
	it, err := h.Inbound.Next(c.Request.Context(), reviewer)
	if errors.Is(err, inbound.ErrQueueEmpty) {
		c.JSON(http.StatusOK, gin.H{"empty": true})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue read failed"})
		return
	}
	c.JSON(http.StatusOK, it)
}

type inboundDecisionRequest struct {
	MessageID  string `json:"message_id"`
	Outcome    string `json:"outcome"`
	EditedBody string `json:"edited_body"`
}

func (h Handlers) InboundDecision(c *gin.Context) {
	reviewer, err := auth.ReviewerID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reviewer required"})
		return
	}
	var req inboundDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.MessageID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message_id required"})
		return
	}

	m, err := h.Inbound.Decide(c.Request.Context(), reviewer, req.MessageID, inbound.Outcome(req.Outcome), req.EditedBody)
	switch {
	case errors.Is(err, inbound.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	case errors.Is(err, inbound.ErrAlreadyDecided):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already decided"})
		return
	case errors.Is(err, approval.ErrUnknownDecision):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown outcome"})
		return
	case err != nil:
		logger.FromGin(c).Error("inbound decision failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "decision failed"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- Campaigns ---

func (h Handlers) CreateCampaign(c *gin.Context) {
	var body campaign.Campaign
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.Campaigns.Create(c.Request.Context(), body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	list, err := h.Campaigns.List(c.Request.Context(), campaign.Status(c.Query("status")))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	out, err := h.Campaigns.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, campaign.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type launchRequest struct {
	LeadIDs []string `json:"lead_ids"`
	Notes   string   `json:"notes"`
}

func (h Handlers) LaunchCampaign(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Campaigns.Launch(c.Request.Context(), c.Param("id"), req.LeadIDs, req.Notes)
	if errors.Is(err, campaign.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) PauseCampaign(c *gin.Context)  { h.transition(c, h.Campaigns.Pause) }
func (h Handlers) ResumeCampaign(c *gin.Context) { h.transition(c, h.Campaigns.Resume) }

func (h Handlers) transition(c *gin.Context, fn func(ctx context.Context, id string) (campaign.Campaign, error)) {
	out, err := fn(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, campaign.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transition failed"})
	default:
		c.JSON(http.StatusOK, out)
	}
}

type advanceRequest struct {
	LeadID string `json:"lead_id"`
}

func (h Handlers) AdvanceEnrollment(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.LeadID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead_id required"})
		return
	}
	e, err := h.Campaigns.Advance(c.Request.Context(), c.Param("id"), req.LeadID)
	if errors.Is(err, campaign.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "enrollment not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "advance failed"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// --- Rotation ---

func (h Handlers) RotationSchedule(c *gin.Context) {
	sts, err := h.Rotation.Schedule(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "schedule failed"})
		return
	}
	c.JSON(http.StatusOK, sts)
}

// --- Activity ---

func (h Handlers) LeadActivity(c *gin.Context) {
	events, err := h.Activity.History(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history failed"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// --- Scheduler tick ---

// Tick runs one engine cycle: ingest inbound mail, route campaign steps,
// and retry stuck CRM syncs. External cron hits this behind the cron secret.
func (h Handlers) Tick(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromGin(c)
	metrics.Ticks.Inc()
	h.Dispatch.BeginCycle()

	out := gin.H{}
	ingest, err := h.Inbound.Ingest(ctx)
	if err != nil {
		log.Error("inbound ingest failed", "err", err)
		out["ingest_error"] = err.Error()
	} else {
		metrics.InboundIngested.Add(float64(ingest.Ingested))
		out["ingest"] = ingest
	}

	routed, err := h.Campaigns.Tick(ctx)
	if err != nil {
		log.Error("campaign tick failed", "err", err)
		out["routing_error"] = err.Error()
	} else {
		metrics.EmailsSent.Add(float64(routed.Sent))
		out["routing"] = routed
	}

	sync, err := h.Approval.RetrySync(ctx)
	if err != nil {
		log.Error("crm retry failed", "err", err)
		out["sync_error"] = err.Error()
	} else {
		out["sync"] = sync
	}

	c.JSON(http.StatusOK, out)
}
