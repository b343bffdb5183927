package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/backoffice-ledger/internal/allotment"
	"github.com/sheikh-saqib/backoffice-ledger/internal/batch"
	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/backoffice-ledger/internal/workflow"
)

type caller struct {
	id   string
	caps string
}

var (
	maker   = caller{"maker-1", "maker"}
	checker = caller{"checker-1", "checker"}
	anon    = caller{}
)

type envelope struct {
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Failures []itemFailure   `json:"failures"`
}

type server struct {
	handler http.Handler
	ledger  *ledger.Ledger
}

func newServer(t *testing.T) server {
	t.Helper()
	store := memory.NewStore()
	l := ledger.NewLedger(store)
	wf := workflow.NewEngine(store, l)
	h := NewHandler(l, wf, batch.NewProcessor(store, wf), allotment.NewService(store, l), nil)
	return server{handler: h.Routes(), ledger: l}
}

func (s server) do(t *testing.T, as caller, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as.id != "" {
		req.Header.Set(headerActorID, as.id)
		req.Header.Set(headerActorCapabilities, as.caps)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s server) open(t *testing.T, id, typ string, deposit int64) {
	t.Helper()
	code, env := s.do(t, checker, http.MethodPost, "/accounts", map[string]any{
		"id": id, "owner_kind": "CUSTOMER", "type": typ, "name": id,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	if deposit != 0 {
		_, err := s.ledger.Post(context.Background(), id, deposit, models.EntryDeposit, "")
		require.NoError(t, err)
	}
}

func (s server) createItem(t *testing.T, kind string, payload map[string]any) itemJSON {
	t.Helper()
	code, env := s.do(t, maker, http.MethodPost, "/workflow-items", map[string]any{
		"action_kind": kind, "payload": payload,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var item itemJSON
	require.NoError(t, json.Unmarshal(env.Data, &item))
	return item
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, env := s.do(t, anon, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
}

func TestDepositApproval(t *testing.T) {
	s := newServer(t)
	s.open(t, "acc", "CUSTOMER_WALLET", 0)

	item := s.createItem(t, "DEPOSIT", map[string]any{"account_id": "acc", "amount": "100.50"})
	assert.Equal(t, "PENDING", item.State)
	assert.True(t, decimal.RequireFromString("100.50").Equal(item.Payload.Amount))

	code, env := s.do(t, checker, http.MethodPost, "/workflow-items/"+item.ID+"/resolve", map[string]any{
		"decision": "approve",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "APPROVED", decodeData[itemJSON](t, env).State)

	code, env = s.do(t, anon, http.MethodGet, "/accounts/acc", nil)
	require.Equal(t, http.StatusOK, code)
	account := decodeData[accountJSON](t, env)
	assert.True(t, decimal.RequireFromString("100.5").Equal(account.Balance), account.Balance.String())

	code, env = s.do(t, anon, http.MethodGet, "/workflow-items/"+item.ID, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decodeData[struct {
		History []transitionJSON `json:"history"`
	}](t, env)
	require.Len(t, detail.History, 2)
	assert.Equal(t, "PENDING", detail.History[0].To)
	assert.Equal(t, "APPROVED", detail.History[1].To)

	code, env = s.do(t, anon, http.MethodGet, "/accounts/acc/statement", nil)
	require.Equal(t, http.StatusOK, code)
	st := decodeData[statementJSON](t, env)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "DEPOSIT", st.Entries[0].Kind)
}

func TestDraftThenSubmit(t *testing.T) {
	s := newServer(t)
	s.open(t, "acc", "CUSTOMER_WALLET", 0)

	code, env := s.do(t, maker, http.MethodPost, "/workflow-items", map[string]any{
		"action_kind": "DEPOSIT", "draft": true,
		"payload": map[string]any{"account_id": "acc", "amount": "5"},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	item := decodeData[itemJSON](t, env)
	assert.Equal(t, "DRAFT", item.State)

	code, env = s.do(t, maker, http.MethodPut, "/workflow-items/"+item.ID, map[string]any{"account_id": "acc", "amount": "7"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, maker, http.MethodPost, "/workflow-items/"+item.ID+"/submit", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	item = decodeData[itemJSON](t, env)
	assert.Equal(t, "PENDING", item.State)
	assert.True(t, decimal.NewFromInt(7).Equal(item.Payload.Amount))

	code, env = s.do(t, anon, http.MethodGet, "/workflow-items?state=pending&maker_id=maker-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]itemJSON](t, env), 1)
}

func TestErrorStatuses(t *testing.T) {
	s := newServer(t)
	s.open(t, "acc", "CUSTOMER_WALLET", 1000)
	pending := s.createItem(t, "DEPOSIT", map[string]any{"account_id": "acc", "amount": "1"})

	tests := []struct {
		name   string
		as     caller
		method string
		path   string
		body   any
		want   int
	}{
		{"missing actor", anon, http.MethodPost, "/workflow-items", map[string]any{"action_kind": "DEPOSIT"}, http.StatusUnauthorized},
		{"checker cannot create", checker, http.MethodPost, "/workflow-items",
			map[string]any{"action_kind": "DEPOSIT", "payload": map[string]any{"account_id": "acc", "amount": "1"}}, http.StatusForbidden},
		{"too many decimals", maker, http.MethodPost, "/workflow-items",
			map[string]any{"action_kind": "DEPOSIT", "payload": map[string]any{"account_id": "acc", "amount": "1.005"}}, http.StatusBadRequest},
		{"unknown field", maker, http.MethodPost, "/workflow-items", map[string]any{"kind": "DEPOSIT"}, http.StatusBadRequest},
		{"insufficient available", maker, http.MethodPost, "/workflow-items",
			map[string]any{"action_kind": "WITHDRAWAL", "payload": map[string]any{"account_id": "acc", "amount": "50"}}, http.StatusUnprocessableEntity},
		{"unknown item", checker, http.MethodPost, "/workflow-items/nope/resolve", map[string]any{"decision": "APPROVE"}, http.StatusNotFound},
		{"maker resolves own item", caller{"maker-1", "maker,checker"}, http.MethodPost, "/workflow-items/" + pending.ID + "/resolve",
			map[string]any{"decision": "APPROVE"}, http.StatusForbidden},
		{"reject without comments", checker, http.MethodPost, "/workflow-items/" + pending.ID + "/resolve",
			map[string]any{"decision": "REJECT"}, http.StatusBadRequest},
		{"stale expected state", checker, http.MethodPost, "/workflow-items/" + pending.ID + "/resolve",
			map[string]any{"decision": "APPROVE", "expected_state": "RETURNED"}, http.StatusConflict},
		{"duplicate account", checker, http.MethodPost, "/accounts",
			map[string]any{"id": "acc", "owner_kind": "CUSTOMER", "type": "CUSTOMER_WALLET"}, http.StatusConflict},
		{"anonymous opens account", anon, http.MethodPost, "/accounts",
			map[string]any{"id": "sys", "owner_kind": "SYSTEM", "type": "LIABILITY"}, http.StatusUnauthorized},
		{"maker opens account", maker, http.MethodPost, "/accounts",
			map[string]any{"id": "sys", "owner_kind": "SYSTEM", "type": "LIABILITY"}, http.StatusForbidden},
		{"anonymous creates ipo", anon, http.MethodPost, "/ipos",
			map[string]any{"name": "X", "issue_size": 1, "price_per_share": "1", "settlement_account_id": "acc"}, http.StatusUnauthorized},
		{"bad statement window", anon, http.MethodGet, "/accounts/acc/statement?start=yesterday", nil, http.StatusBadRequest},
		{"unknown account", anon, http.MethodGet, "/accounts/missing", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.as, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, env.Message)
			assert.Equal(t, "error", env.Status)
		})
	}
}

func TestBatchPartialFailure(t *testing.T) {
	s := newServer(t)
	s.open(t, "a1", "CUSTOMER_WALLET", 0)
	s.open(t, "a2", "CUSTOMER_WALLET", 0)
	first := s.createItem(t, "DEPOSIT", map[string]any{"account_id": "a1", "amount": "10"})
	second := s.createItem(t, "DEPOSIT", map[string]any{"account_id": "a2", "amount": "20"})

	code, env := s.do(t, maker, http.MethodPost, "/batches", map[string]any{"item_ids": []string{first.ID, second.ID}})
	require.Equal(t, http.StatusCreated, code, env.Message)
	b := decodeData[batchJSON](t, env)
	assert.Equal(t, "PENDING", b.Status)
	assert.True(t, decimal.NewFromInt(30).Equal(b.TotalAmount))

	_, err := s.ledger.Deactivate(context.Background(), "a2")
	require.NoError(t, err)

	code, env = s.do(t, checker, http.MethodPost, "/batches/"+b.ID+"/approve", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.Len(t, env.Failures, 1)
	assert.Equal(t, second.ID, env.Failures[0].ItemID)

	code, env = s.do(t, anon, http.MethodGet, "/batches/"+b.ID, nil)
	require.Equal(t, http.StatusOK, code)
	b = decodeData[batchJSON](t, env)
	assert.Equal(t, "PENDING", b.Status)
	for _, item := range b.Items {
		assert.Equal(t, "PENDING", item.State)
	}

	code, env = s.do(t, checker, http.MethodPost, "/batches/"+b.ID+"/reject", map[string]any{"comments": "account closed"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "REJECTED", decodeData[batchJSON](t, env).Status)
}

func TestIPOAllotment(t *testing.T) {
	s := newServer(t)
	s.open(t, "issuer", "LIABILITY", 0)
	s.open(t, "cust", "CUSTOMER_WALLET", 10000)

	code, env := s.do(t, maker, http.MethodPost, "/ipos", map[string]any{
		"id": "ipo-1", "name": "Acme", "issue_size": 100, "price_per_share": "10", "settlement_account_id": "issuer",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(t, maker, http.MethodPost, "/ipos/ipo-1/applications", map[string]any{
		"customer_id": "c1", "account_id": "cust", "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	app := decodeData[applicationJSON](t, env)
	assert.True(t, decimal.NewFromInt(50).Equal(app.Amount))

	code, env = s.do(t, checker, http.MethodPost, "/ipo-applications/"+app.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, _ = s.do(t, checker, http.MethodPost, "/ipos/ipo-1/allotment", nil)
	assert.Equal(t, http.StatusConflict, code, "allotment before subscription closes")

	code, _ = s.do(t, anon, http.MethodPost, "/ipos/ipo-1/close", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, maker, http.MethodPost, "/ipos/ipo-1/close", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, env = s.do(t, checker, http.MethodPost, "/ipos/ipo-1/close", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, anon, http.MethodGet, "/ipos/ipo-1/allotment/plan", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	plan := decodeData[[]allocationJSON](t, env)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(5), plan[0].Shares)

	code, _ = s.do(t, anon, http.MethodPost, "/ipos/ipo-1/allotment", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, env = s.do(t, checker, http.MethodPost, "/ipos/ipo-1/allotment", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	summary := decodeData[summaryJSON](t, env)
	assert.Equal(t, int64(5), summary.TotalSharesAllotted)
	assert.True(t, decimal.NewFromInt(50).Equal(summary.TotalAmountSettled))

	code, env = s.do(t, anon, http.MethodGet, "/ipos/ipo-1/summary", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decodeData[summaryJSON](t, env).TotalAllotted)
}
