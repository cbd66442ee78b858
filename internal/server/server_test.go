package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	activityrepo "github.com/smallbiznis/railzway-alerts/internal/activity/repository"
	activityservice "github.com/smallbiznis/railzway-alerts/internal/activity/service"
	"github.com/smallbiznis/railzway-alerts/internal/alert/alerttest"
	alertrepo "github.com/smallbiznis/railzway-alerts/internal/alert/repository"
	alertservice "github.com/smallbiznis/railzway-alerts/internal/alert/service"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	subscriptionrepo "github.com/smallbiznis/railzway-alerts/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/railzway-alerts/internal/subscription/service"
	usagerepo "github.com/smallbiznis/railzway-alerts/internal/usage/repository"
	usageservice "github.com/smallbiznis/railzway-alerts/internal/usage/service"
	walletrepo "github.com/smallbiznis/railzway-alerts/internal/wallet/repository"
	walletservice "github.com/smallbiznis/railzway-alerts/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOrg    = snowflake.ID(7)
	testOrgStr = "7"
)

type testServer struct {
	engine       *gin.Engine
	db           *gorm.DB
	activityRepo activitydomain.Repository
	clock        *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := alerttest.NewDB(t)
	node := alerttest.Node(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	actRepo := activityrepo.Provide()
	activity := activityservice.New(activityservice.Params{DB: db, Log: log, GenID: node, Repo: actRepo, Clock: clk})
	subs := subscriptionservice.New(subscriptionservice.Params{DB: db, Repo: subscriptionrepo.Provide()})
	wallets := walletservice.New(walletservice.Params{DB: db, Log: log, Repo: walletrepo.Provide(), ActivitySvc: activity, Clock: clk})
	usage := usageservice.New(usageservice.Params{DB: db, Log: log, GenID: node, Repo: usagerepo.Provide(), SubSvc: subs, ActivitySvc: activity, Clock: clk})
	alerts := alertservice.New(alertservice.Params{
		DB: db, Log: log, GenID: node, Repo: alertrepo.Provide(), SubSvc: subs, WalletSvc: wallets, Clock: clk,
	})

	alerttest.SeedSubscription(t, db, testOrg, 1, "sub_a")
	alerttest.SeedWallet(t, db, testOrg, 900, "500")

	srv := NewServer(ServerParams{
		Gin:         NewEngine(false),
		Cfg:         config.Config{HTTPAddr: ":0"},
		DB:          db,
		AlertSvc:    alerts,
		ActivitySvc: activity,
		UsageSvc:    usage,
		WalletSvc:   wallets,
	})

	return &testServer{engine: srv.Engine(), db: db, activityRepo: actRepo, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithOrg(t, method, path, testOrgStr, body)
}

func (s *testServer) doWithOrg(t *testing.T, method, path, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set(HeaderOrg, org)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func usageAlertBody(code string) map[string]any {
	return map[string]any{
		"alert_type":               "usage_amount",
		"subscription_external_id": "sub_a",
		"name":                     "Spend watch",
		"code":                     code,
		"thresholds": []map[string]any{
			{"code": "warn", "value": "1000"},
			{"code": "rec", "value": "500", "recurring": true},
		},
	}
}

func TestCreateAndFetchAlert(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/alerts", usageAlertBody("spend"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data struct {
			ID         string `json:"id"`
			Code       string `json:"code"`
			AlertType  string `json:"alert_type"`
			Thresholds []struct {
				Code  string `json:"code"`
				Value string `json:"value"`
			} `json:"thresholds"`
		} `json:"data"`
	}
	decode(t, rec, &created)
	assert.Equal(t, "spend", created.Data.Code)
	assert.Equal(t, "usage_amount", created.Data.AlertType)
	require.Len(t, created.Data.Thresholds, 2)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/sub_a/alerts/spend", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/sub_a/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []map[string]any `json:"data"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Data, 1)

	rec = s.do(t, http.MethodGet, "/api/alerts/"+created.Data.ID+"/triggered?page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAlertValidationErrors(t *testing.T) {
	s := newTestServer(t)

	body := usageAlertBody("spend")
	body["thresholds"] = []map[string]any{}
	rec := s.do(t, http.MethodPost, "/api/alerts", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "validation_error", resp.Error.Type)
	require.NotEmpty(t, resp.Error.Errors)
	assert.Equal(t, "thresholds", resp.Error.Errors[0].Field)
}

func TestCreateAlertDuplicateCode(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/alerts", usageAlertBody("spend")).Code)

	rec := s.do(t, http.MethodPost, "/api/alerts", usageAlertBody("spend"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "taken", resp.Error.Errors[0].Code)
}

func TestCreateAlertMissingSubscription(t *testing.T) {
	s := newTestServer(t)

	body := usageAlertBody("spend")
	body["subscription_external_id"] = "ghost"
	rec := s.do(t, http.MethodPost, "/api/alerts", body)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlertBatchReportsPerIndexErrors(t *testing.T) {
	s := newTestServer(t)

	bad := usageAlertBody("broken")
	bad["alert_type"] = "not_a_kind"
	rec := s.do(t, http.MethodPost, "/api/alerts/batch", map[string]any{
		"alerts": []map[string]any{usageAlertBody("one"), bad, usageAlertBody("two")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data   []map[string]any `json:"data"`
		Errors []batchItemError `json:"errors"`
	}
	decode(t, rec, &resp)
	assert.Len(t, resp.Data, 2)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, "validation_error", resp.Errors[0].Error.Type)
}

func TestDestroySubscriptionAlerts(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/alerts", usageAlertBody("one")).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/alerts", usageAlertBody("two")).Code)

	rec := s.do(t, http.MethodDelete, "/api/subscriptions/sub_a/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Deleted int `json:"deleted"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Deleted)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/sub_a/alerts/one", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletAlerts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/alerts", map[string]any{
		"alert_type": "wallet_balance_amount",
		"wallet_id":  "900",
		"code":       "low",
		"thresholds": []map[string]any{{"code": "low", "value": "150"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/wallets/900/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []struct {
			Direction string `json:"direction"`
		} `json:"data"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "decreasing", list.Data[0].Direction)
}

func TestMutationEndpointsRecordActivity(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodPut, "/api/subscriptions/sub_a/usage", map[string]any{
		"billable_metric_id": "40",
		"current_amount":     "120.5",
		"lifetime_amount":    "900",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/wallets/900/balance", map[string]any{"ongoing_balance": "80"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	horizon := s.clock.Now().Add(time.Hour)
	subDue, err := s.activityRepo.ListDue(ctx, s.db, activitydomain.QueueSubscription, testOrg, horizon, 10)
	require.NoError(t, err)
	assert.Len(t, subDue, 1)
	walletDue, err := s.activityRepo.ListDue(ctx, s.db, activitydomain.QueueWallet, testOrg, horizon, 10)
	require.NoError(t, err)
	assert.Len(t, walletDue, 1)
}

func TestRecordActivityEndpoints(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/activity/subscriptions/sub_a", nil).Code)
	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/activity/subscriptions/sub_a", nil).Code)
	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/activity/wallets/900", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/activity/wallets/abc", nil).Code)
}

func TestOrgHeaderRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.doWithOrg(t, http.MethodGet, "/api/subscriptions/sub_a/alerts", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "organization", resp.Error.Errors[0].Field)

	rec = s.doWithOrg(t, http.MethodGet, "/api/subscriptions/sub_a/alerts", "acme", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndFallback(t *testing.T) {
	s := newTestServer(t)

	rec := s.doWithOrg(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.doWithOrg(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidPageSize(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/alerts/123/triggered?page_size=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
