package ledger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

func newTestRouter(store *memStore) *mux.Router {
	h := NewHandler(NewEngine(store, 3))
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, userID, idemKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreditEndpointCreatesWalletLazily(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store)

	rec := doJSON(t, r, http.MethodPost, "/wallet/credit", "u1", "k1",
		map[string]any{"amount": 500})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != 500 || resp.LedgerEntryID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCreditEndpointRequiresUserHeader(t *testing.T) {
	r := newTestRouter(newMemStore())
	rec := doJSON(t, r, http.MethodPost, "/wallet/credit", "", "", map[string]any{"amount": 10})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body domain.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Kind != domain.KindValidation {
		t.Errorf("expected VALIDATION kind, got %s", body.Kind)
	}
}

func TestDebitEndpointInsufficientFunds(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 50))
	r := newTestRouter(store)

	rec := doJSON(t, r, http.MethodPost, "/wallet/debit", "u1", "", map[string]any{"amount": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDebitEndpointSuspendedWalletForbidden(t *testing.T) {
	store := newMemStore()
	w := activeWallet("w1", "u1", 100)
	w.Status = domain.WalletSuspended
	store.addWallet(w)
	r := newTestRouter(store)

	rec := doJSON(t, r, http.MethodPost, "/wallet/debit", "u1", "", map[string]any{"amount": 10})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestP2PEndpoint(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("wa", "ua", 100))
	r := newTestRouter(store)

	rec := doJSON(t, r, http.MethodPost, "/wallet/p2p", "ua", "t1", map[string]any{
		"recipientUserId": "ub",
		"amount":          60,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp p2pResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SenderBalance != 40 || resp.RecipientBalance != 60 {
		t.Errorf("balances (%d,%d), want (40,60)", resp.SenderBalance, resp.RecipientBalance)
	}
	if resp.LedgerEntryID.DebitLedgerEntryID == "" || resp.LedgerEntryID.CreditLedgerEntryID == "" {
		t.Error("missing ledger entry ids in response")
	}
}

func TestP2PEndpointRejectsSelfTransfer(t *testing.T) {
	r := newTestRouter(newMemStore())
	rec := doJSON(t, r, http.MethodPost, "/wallet/p2p", "ua", "", map[string]any{
		"recipientUserId": "ua",
		"amount":          10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListEntriesUnknownWallet(t *testing.T) {
	r := newTestRouter(newMemStore())
	rec := doJSON(t, r, http.MethodGet, "/wallet/nope/entries", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
