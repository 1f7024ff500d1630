package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/loyaltyops/accrual-core/internal/logger"
)

// ErrRetryable wraps failures worth retrying: timeouts, connection
// errors and ledger 5xx responses.
var ErrRetryable = errors.New("retryable ledger failure")

// Gateway is the outbound accrual surface. The HTTP client implements
// it; tests substitute fakes.
type Gateway interface {
	SendAccrual(ctx context.Context, call *AccrualCall) error
}

// Client posts accrual calls to the remote ledger's accrual endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logger.Interface
}

// NewClient creates a ledger client. Every request carries the given
// timeout; a timeout is a retryable failure, not a fatal one.
func NewClient(baseURL string, timeout time.Duration, log logger.Interface) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log,
	}
}

type accrualRequest struct {
	CampaignID    string         `json:"campaignId"`
	UserID        string         `json:"userId"`
	Points        int            `json:"points"`
	RuleID        string         `json:"ruleId"`
	TransactionID string         `json:"transactionId"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SendAccrual delivers one accrual call. Non-2xx responses and
// timeouts come back as errors; 5xx and connectivity failures wrap
// ErrRetryable.
func (c *Client) SendAccrual(ctx context.Context, call *AccrualCall) error {
	body, err := json.Marshal(accrualRequest{
		CampaignID:    call.CampaignID,
		UserID:        call.UserID,
		Points:        call.Points,
		RuleID:        call.RuleID,
		TransactionID: call.TransactionID,
		Description:   call.Description,
		Metadata:      call.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal accrual: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/accruals", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build accrual request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", call.IdempotencyKey())

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("ledger accrual timed out: %w", ErrRetryable)
		}
		return fmt.Errorf("ledger accrual: %w: %w", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("accrual dispatched",
			"transaction_id", call.TransactionID,
			"rule_id", call.RuleID,
			"points", call.Points)
		return nil
	}

	// Read a little of the body for the error message.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ledger accrual returned %d: %s: %w", resp.StatusCode, snippet, ErrRetryable)
	}
	return fmt.Errorf("ledger accrual returned %d: %s", resp.StatusCode, snippet)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
