package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callcredits-platform/internal/auth"
	"callcredits-platform/internal/billing"
	"callcredits-platform/internal/calls"
	"callcredits-platform/internal/config"
	"callcredits-platform/internal/referral"
	"callcredits-platform/internal/reporting"
	"callcredits-platform/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestRouter wires the full handler set against in-memory stores, with a
// middleware that forges the given identity instead of verifying a JWT.
func newTestRouter(t *testing.T, userID, role string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	defaults := config.BillingConfig{
		CallCost:       dec("1.00"),
		InitialBalance: dec("10.00"),
		ReferralReward: dec("5.00"),
		ResetAmount:    dec("5.00"),
	}
	settingsSvc := settings.NewService(settings.NewMemoryRepo(), defaults)

	callsRepo := calls.NewMemoryRepo()
	billingSvc := billing.NewService(billing.NewMemoryRepo(), callsRepo, settingsSvc)
	callsSvc := calls.NewService(callsRepo, billingSvc, settingsSvc)
	referralSvc := referral.NewService(referral.NewMemoryGuard(), billingSvc, settingsSvc, time.Hour)

	h := Handlers{
		Billing:          billingSvc,
		Calls:            callsSvc,
		Referrals:        referralSvc,
		Settings:         settingsSvc,
		Reports:          reporting.NewService(reporting.NewMemoryRepo()),
		Reconciler:       calls.NewReconciler(callsRepo, billingSvc),
		StaleCallTimeout: time.Minute,
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.POST("/v1/calls/events", h.HandleCallEvent)
	r.GET("/v1/calls/:call_id", h.GetCall)
	r.GET("/v1/balance", h.GetBalance)
	r.POST("/v1/referrals/reward", h.RewardReferral)
	r.POST("/v1/admin/balances/:user_id/reset", h.AdminResetBalance)
	r.POST("/v1/admin/reconcile", h.AdminReconcile)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleCallEvent_FullLifecycle(t *testing.T) {
	r := newTestRouter(t, "alice", "user")

	w := doJSON(t, r, http.MethodPost, "/v1/calls/events",
		`{"event":"onOutgoingCallRinging","payload":{"call_id":"h1","invitee_id":"bob"}}`)
	if w.Code != 200 {
		t.Fatalf("ringing: status %d body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/events",
		`{"event":"onIncomingCallAcceptButtonPressed","payload":{"call_id":"h1","invitee_id":"bob"}}`)
	if w.Code != 200 {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/v1/calls/h1", "")
	if w.Code != 200 {
		t.Fatalf("get: status %d", w.Code)
	}
	var sess calls.CallSession
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if sess.State != calls.StateAccepted {
		t.Fatalf("state = %q, want accepted", sess.State)
	}
}

func TestHandleCallEvent_ErrorTaxonomy(t *testing.T) {
	r := newTestRouter(t, "alice", "user")

	// Unknown event name.
	w := doJSON(t, r, http.MethodPost, "/v1/calls/events",
		`{"event":"onTeleport","payload":{"call_id":"h2","invitee_id":"bob"}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown event: status %d, want 400", w.Code)
	}

	// Unknown call.
	w = doJSON(t, r, http.MethodGet, "/v1/calls/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing call: status %d, want 404", w.Code)
	}
}

func TestHandleCallEvent_InsufficientBalanceIs402(t *testing.T) {
	r := newTestRouter(t, "alice", "user")

	// Drain the freshly granted balance, then try to place a call.
	w := doJSON(t, r, http.MethodPost, "/v1/admin/balances/alice/reset", `{"amount":"0"}`)
	if w.Code != 200 {
		t.Fatalf("reset: status %d body %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/v1/calls/events",
		`{"event":"onOutgoingCallRinging","payload":{"call_id":"h3","invitee_id":"bob"}}`)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status %d, want 402", w.Code)
	}
}

func TestGetBalance_LazyInit(t *testing.T) {
	r := newTestRouter(t, "carol", "user")

	w := doJSON(t, r, http.MethodGet, "/v1/balance", "")
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	var bal billing.UserBalance
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatal(err)
	}
	if !bal.BaseBalance.Equal(dec("10.00")) {
		t.Errorf("base = %s, want 10.00", bal.BaseBalance)
	}
}

func TestRewardReferral_DuplicateSuppressed(t *testing.T) {
	r := newTestRouter(t, "alice", "user")

	w := doJSON(t, r, http.MethodPost, "/v1/referrals/reward", `{"referred_id":"bob"}`)
	if w.Code != 200 {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Applied bool `json:"applied"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Applied {
		t.Fatal("first reward should apply")
	}

	w = doJSON(t, r, http.MethodPost, "/v1/referrals/reward", `{"referred_id":"bob"}`)
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Applied {
		t.Fatal("duplicate reward should be suppressed")
	}
}

func TestAdminReconcile_EmptySweep(t *testing.T) {
	r := newTestRouter(t, "root", "admin")

	w := doJSON(t, r, http.MethodPost, "/v1/admin/reconcile", "")
	if w.Code != 200 {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var sum calls.ReconciliationSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.TotalProcessed != 0 {
		t.Fatalf("summary = %+v, want empty", sum)
	}
}
