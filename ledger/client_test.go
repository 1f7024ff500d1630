package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loyaltyops/accrual-core/internal/logger"
)

func testCall() *AccrualCall {
	return &AccrualCall{
		ID:            "call-1",
		CampaignID:    "camp-1",
		UserID:        "user-1",
		Points:        42,
		RuleID:        "rule-1",
		TransactionID: "txn-1",
		Description:   "accrual rule rule-1",
	}
}

func TestSendAccrualSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody accrualRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, logger.NewNop())
	if err := client.SendAccrual(context.Background(), testCall()); err != nil {
		t.Fatalf("SendAccrual() failed: %v", err)
	}

	if gotPath != "/api/v1/accruals" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "txn-1:rule-1" {
		t.Errorf("idempotency key = %q, want txn-1:rule-1", gotKey)
	}
	if gotBody.Points != 42 || gotBody.UserID != "user-1" {
		t.Errorf("unexpected body: %+v", gotBody)
	}
}

func TestSendAccrualServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, logger.NewNop())
	err := client.SendAccrual(context.Background(), testCall())
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("5xx should be retryable, got %v", err)
	}
}

func TestSendAccrualClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown member account", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, logger.NewNop())
	err := client.SendAccrual(context.Background(), testCall())
	if err == nil {
		t.Fatal("expected error for 4xx response")
	}
	if errors.Is(err, ErrRetryable) {
		t.Errorf("4xx must not be retryable: %v", err)
	}
}

func TestSendAccrualTimeoutIsRetryable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewClient(srv.URL, 50*time.Millisecond, logger.NewNop())
	err := client.SendAccrual(context.Background(), testCall())
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("timeout should be retryable, got %v", err)
	}
}

func TestSendAccrualConnectionErrorIsRetryable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, logger.NewNop())
	err := client.SendAccrual(context.Background(), testCall())
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("connection refusal should be retryable, got %v", err)
	}
}
