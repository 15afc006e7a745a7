package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/mempool"
	"github.com/certen/ledgernode/internal/txtypes"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mp := mempool.New(nil)
	return New(Config{Addr: ":0"}, mp, nil, nil, nil, nil, nil, nil)
}

func TestHandleMempoolReturnsRecentEntries(t *testing.T) {
	s := newTestServer(t)
	tx := &txtypes.Transaction{ID: uuid.New(), TxHash: "abc", ChainID: "main", Sender: "a", Recipient: "b"}
	if !s.mempool.Admit(tx, time.Now()) {
		t.Fatal("admit should succeed")
	}

	req := httptest.NewRequest(http.MethodGet, "/mempool", nil)
	rr := httptest.NewRecorder()
	s.handleMempool(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Count        int `json:"count"`
		Transactions []txtypes.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Transactions) != 1 {
		t.Fatalf("expected 1 entry, got %+v", body)
	}
}

func TestHandleMempoolRejectsNonGet(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mempool", nil)
	rr := httptest.NewRecorder()
	s.handleMempool(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleSubmitRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tx/submit", jsonBody(t, submitRequest{TxHash: "aa"}))
	rr := httptest.NewRecorder()
	s.handleSubmit(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rr.Code)
	}
}

func TestHandleSubmitRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	req := submitRequest{
		TxHash: "deadbeef", Sender: "alice", Recipient: "bob", ChainID: "main",
		PublicKey: "00", Signature: "00",
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/tx/submit", jsonBody(t, req))
	rr := httptest.NewRecorder()
	s.handleSubmit(rr, httpReq)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rr.Code)
	}
}

func TestHandleSubmitAcceptsValidTransaction(t *testing.T) {
	s := newTestServer(t)
	req := submitRequest{TxHash: "cafebabe", Sender: "alice", Recipient: "bob", ChainID: "main"}
	httpReq := httptest.NewRequest(http.MethodPost, "/tx/submit", jsonBody(t, req))
	rr := httptest.NewRecorder()
	s.handleSubmit(rr, httpReq)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleSubmitRejectsDuplicatePendingHash(t *testing.T) {
	s := newTestServer(t)
	req := submitRequest{TxHash: "feedface", Sender: "alice", Recipient: "bob", ChainID: "main"}
	first := httptest.NewRequest(http.MethodPost, "/tx/submit", jsonBody(t, req))
	s.handleSubmit(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/tx/submit", jsonBody(t, req))
	rr := httptest.NewRecorder()
	s.handleSubmit(rr, second)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}
