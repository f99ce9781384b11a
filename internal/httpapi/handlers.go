package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callcredits-platform/internal/auth"
	"callcredits-platform/internal/billing"
	"callcredits-platform/internal/calls"
	"callcredits-platform/internal/referral"
	"callcredits-platform/internal/reporting"
	"callcredits-platform/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Billing    *billing.Service
	Calls      *calls.Service
	Referrals  *referral.Service
	Settings   *settings.Service
	Reports    *reporting.Service
	Reconciler *calls.Reconciler

	StaleCallTimeout time.Duration
}

// writeError maps service errors onto the HTTP status taxonomy. Unmatched
// errors are treated as infrastructure failures.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrInsufficientBalance):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, billing.ErrNotFound),
		errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, billing.ErrInvalidArgument),
		errors.Is(err, calls.ErrUnknownEvent),
		errors.Is(err, calls.ErrInvalidPayload),
		errors.Is(err, calls.ErrSelfCall),
		errors.Is(err, referral.ErrInvalidArgument),
		errors.Is(err, referral.ErrSelfReferral),
		errors.Is(err, settings.ErrUnknownKey),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	}
}

/* ===================== AUTH ===================== */

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues a JWT access token.
//
// NOTE: credential validation lives in the identity provider upstream; this
// endpoint only mints tokens for already-authenticated principals.
func (h Handlers) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	tok, err := h.Auth.IssueAccessToken(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

/* ===================== CALLS ===================== */

type callEventRequest struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// HandleCallEvent ingests one call lifecycle event from the client SDK.
func (h Handlers) HandleCallEvent(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	var req callEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Event == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "event required"})
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	if _, ok := req.Payload["ip_address"]; !ok {
		req.Payload["ip_address"] = c.ClientIP()
	}

	sess, err := h.Calls.HandleEvent(c.Request.Context(), userID, req.Event, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) GetCall(c *gin.Context) {
	sess, err := h.Calls.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) ListCallEvents(c *gin.Context) {
	events, err := h.Calls.ListEvents(c.Request.Context(), c.Param("call_id"), 100)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

/* ===================== BALANCE ===================== */

func (h Handlers) GetBalance(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	bal, err := h.Billing.GetOrCreateBalance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) ListLedger(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	entries, err := h.Billing.ListLedger(c.Request.Context(), userID, 100)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

/* ===================== REFERRALS ===================== */

type referralRewardRequest struct {
	ReferredID string `json:"referred_id"`
}

// RewardReferral credits the caller's bonus bucket for referring another
// user. Duplicate triggers for the same pair are acknowledged, not repaid.
func (h Handlers) RewardReferral(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	var req referralRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	bal, applied, err := h.Referrals.Reward(c.Request.Context(), userID, req.ReferredID, decimal.Zero)
	if err != nil {
		writeError(c, err)
		return
	}
	if !applied {
		c.JSON(http.StatusOK, gin.H{"applied": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "balance": bal})
}

/* ===================== ADMIN ===================== */

type adminAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AdminResetBalance sets a user's base balance to an absolute amount.
func (h Handlers) AdminResetBalance(c *gin.Context) {
	var req adminAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	bal, err := h.Billing.ResetBaseBalance(c.Request.Context(), c.Param("user_id"), req.Amount, billing.ResetTypeAdmin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// AdminGrantReward credits a user's bonus bucket directly.
func (h Handlers) AdminGrantReward(c *gin.Context) {
	var req adminAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	bal, err := h.Billing.AddReward(c.Request.Context(), c.Param("user_id"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// AdminReconcile runs one reconciliation sweep on demand.
func (h Handlers) AdminReconcile(c *gin.Context) {
	sum, err := h.Reconciler.Run(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// AdminSweepStale marks calls stuck past the timeout as missed.
func (h Handlers) AdminSweepStale(c *gin.Context) {
	n, err := h.Reconciler.MarkStaleMissed(c.Request.Context(), h.StaleCallTimeout)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": n})
}

func (h Handlers) AdminListSettings(c *gin.Context) {
	all, err := h.Settings.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": all})
}

type adminSettingRequest struct {
	Key   string          `json:"key"`
	Value decimal.Decimal `json:"value"`
}

func (h Handlers) AdminSetSetting(c *gin.Context) {
	adminID, _ := auth.UserID(c.Request.Context())

	var req adminSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	st, err := h.Settings.Set(c.Request.Context(), req.Key, req.Value, adminID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

/* ===================== REPORTS ===================== */

func (h Handlers) parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	var tr reporting.TimeRange
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return tr, false
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return tr, false
	}
	tr.From, tr.To = from, to
	return tr, true
}

func (h Handlers) AdminCallsReport(c *gin.Context) {
	tr, ok := h.parseRange(c)
	if !ok {
		return
	}
	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:  tr,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) AdminSpendReport(c *gin.Context) {
	tr, ok := h.parseRange(c)
	if !ok {
		return
	}
	sum, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		Range:  tr,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
