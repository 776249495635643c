package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Command-Relay/commandrelay/internal/adapter/outbound/memory"
	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
	"github.com/Command-Relay/commandrelay/internal/domain/policy"
	"github.com/Command-Relay/commandrelay/internal/service"
)

type apiFixture struct {
	handler       http.Handler
	policies      *memory.PolicyStore
	confirmations *confirmation.Manager
	audit         *memory.AuditStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	policies := memory.NewPolicyStore()
	classifier := service.NewClassificationService(policy.NewEngine(policies, nil), nil, nil)
	auditStore := memory.NewAuditStore(1000)
	confirmer := confirmation.NewManager(memory.NewConfirmationStore(), auditStore, nil, time.Minute)
	policyAdmin := service.NewPolicyAdminService(policies, classifier, auditStore, nil)

	h := NewAPIHandler(
		WithPolicyAdmin(policyAdmin),
		WithClassifier(classifier),
		WithConfirmations(confirmer),
		WithAuditReader(auditStore),
		WithLimiter(memory.NewRateLimiter(nil)),
		WithVersion("test"),
	)
	return &apiFixture{
		handler:       h.Routes(),
		policies:      policies,
		confirmations: confirmer,
		audit:         auditStore,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Actor-ID", "alice")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPI_PolicyCRUD(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/policies", policyRequest{
		Name: "no rm", MatchType: "wildcard", MatchValue: "rm *", Mode: "forbid", Priority: 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[policyResponse](t, rec)
	if created.ID == "" || created.TenantID != "tenant-a" {
		t.Errorf("created = %+v", created)
	}

	rec = fx.do(t, http.MethodGet, "/api/v1/policies/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodPut, "/api/v1/policies/"+created.ID, policyRequest{
		Name: "no rm at all", MatchType: "wildcard", MatchValue: "rm *", Mode: "forbid", Priority: 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[policyResponse](t, rec)
	if updated.Name != "no rm at all" || updated.Priority != 5 {
		t.Errorf("updated = %+v", updated)
	}

	rec = fx.do(t, http.MethodGet, "/api/v1/policies", nil)
	if got := decodeBody[[]policyResponse](t, rec); len(got) != 1 {
		t.Errorf("list = %d policies, want 1", len(got))
	}

	rec = fx.do(t, http.MethodDelete, "/api/v1/policies/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = fx.do(t, http.MethodGet, "/api/v1/policies/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestAPI_CreatePolicyRejectsInvalid(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/policies", policyRequest{
		Name: "bad regex", MatchType: "regex", MatchValue: "[unclosed", Mode: "forbid",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_PolicyCheckContract(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	ctx := context.Background()
	_ = fx.policies.Save(ctx, &policy.CommandPolicy{
		ID: "p1", TenantID: "tenant-a", Name: "no rm",
		MatchType: policy.MatchWildcard, MatchValue: "rm *", Mode: policy.ModeForbid,
	})
	_ = fx.policies.Save(ctx, &policy.CommandPolicy{
		ID: "p2", TenantID: "tenant-a", Name: "confirm reboot",
		MatchType: policy.MatchExact, MatchValue: "reboot", Mode: policy.ModeConfirm,
	})

	rec := fx.do(t, http.MethodPost, "/api/v1/policy/check", checkRequest{
		Commands: []string{"ls", "reboot", "rm -rf /"},
		AgentOS:  "linux",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Allowed       bool   `json:"allowed"`
		OverallStatus string `json:"overall_status"`
		BlockedCount  int    `json:"blocked_count"`
		ConfirmCount  int    `json:"confirm_count"`
		Commands      []struct {
			Command string `json:"command"`
			Status  string `json:"status"`
		} `json:"commands_status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OverallStatus != "forbid" || got.BlockedCount != 1 || got.ConfirmCount != 1 {
		t.Errorf("aggregate = %+v", got)
	}
	if got.Allowed {
		t.Error("allowed = true, want false for a forbidden action")
	}
	if !strings.Contains(rec.Body.String(), `"allowed":false`) {
		t.Errorf("body missing allowed key: %s", rec.Body.String())
	}
	if len(got.Commands) != 3 || got.Commands[2].Status != "forbid" {
		t.Errorf("commands_status = %+v", got.Commands)
	}
}

func TestAPI_PolicyCheckEmptyCommands(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodPost, "/api/v1/policy/check", checkRequest{Commands: nil})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := decodeBody[policy.ActionClassification](t, rec)
	if !got.Allowed || got.OverallStatus != policy.StatusAuto {
		t.Errorf("aggregate = %+v, want allowed auto", got)
	}
	if got.BlockedCount != 0 || got.ConfirmCount != 0 || len(got.Commands) != 0 {
		t.Errorf("counts = %+v, want all zero", got)
	}
}

func TestAPI_ConfirmationLifecycle(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	ctx := context.Background()
	c, err := fx.confirmations.Open(ctx, "reboot", "agent-1", "tenant-a", time.Minute)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	rec := fx.do(t, http.MethodGet, "/api/v1/confirmations", nil)
	if got := decodeBody[[]confirmation.CommandConfirmation](t, rec); len(got) != 1 {
		t.Fatalf("pending = %d, want 1", len(got))
	}

	rec = fx.do(t, http.MethodPost, "/api/v1/confirmations/"+c.ID+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}
	approved := decodeBody[confirmation.CommandConfirmation](t, rec)
	if approved.Status != confirmation.StatusApproved || approved.ResolvedBy != "alice" {
		t.Errorf("approved = %+v", approved)
	}

	// A second decision on a resolved record conflicts.
	rec = fx.do(t, http.MethodPost, "/api/v1/confirmations/"+c.ID+"/reject", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("reject after approve status = %d, want 409", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/api/v1/confirmations/unknown/approve", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("approve unknown status = %d, want 404", rec.Code)
	}
}

func TestAPI_ConfirmationSweep(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx.confirmations.WithClock(func() time.Time { return now })

	if _, err := fx.confirmations.Open(ctx, "reboot", "agent-1", "tenant-a", time.Minute); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	now = now.Add(2 * time.Minute)

	rec := fx.do(t, http.MethodPost, "/api/v1/confirmations/sweep", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[confirmation.SweepResult](t, rec)
	if result.ExpiredCount != 1 {
		t.Errorf("ExpiredCount = %d, want 1", result.ExpiredCount)
	}
}

func TestAPI_AuditQuery(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)

	// Policy mutations leave audit records behind.
	rec := fx.do(t, http.MethodPost, "/api/v1/policies", policyRequest{
		Name: "p", MatchType: "exact", MatchValue: "ls", Mode: "auto",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/api/v1/audit?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	records := decodeBody[[]map[string]any](t, rec)
	if len(records) == 0 {
		t.Fatal("no audit records returned")
	}
	if records[0]["event_type"] != "policy.create" {
		t.Errorf("event_type = %v, want policy.create", records[0]["event_type"])
	}

	rec = fx.do(t, http.MethodGet, "/api/v1/audit?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestAPI_NamedLimitGuardsMutations(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)

	// Exhaust the per-actor mutation budget.
	var last *httptest.ResponseRecorder
	for i := 0; i <= adminLimitMaxCount; i++ {
		last = fx.do(t, http.MethodPost, "/api/v1/policies", policyRequest{
			Name: fmt.Sprintf("p-%d", i), MatchType: "exact", MatchValue: "ls", Mode: "auto",
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Reads stay unthrottled.
	rec := fx.do(t, http.MethodGet, "/api/v1/policies", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", rec.Code)
	}
}

func TestAPI_SystemInfo(t *testing.T) {
	t.Parallel()

	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/api/v1/system", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	info := decodeBody[map[string]any](t, rec)
	if info["version"] != "test" {
		t.Errorf("version = %v, want test", info["version"])
	}
}
