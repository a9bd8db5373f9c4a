// Package payment moves approved loan funds to the applicant.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"loan-lifecycle/internal/common/config"
	commonhttp "loan-lifecycle/internal/common/http"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"

	"github.com/google/uuid"
)

// Gateway executes a disbursement and returns the transaction id.
type Gateway interface {
	Disburse(ctx context.Context, app *models.LoanApplication) (string, error)
}

// TransactionID renders TXN-yyyyMMdd-<first 8 chars of a uuid>.
func TransactionID(at time.Time, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "TXN-" + at.Format("20060102") + "-" + id
}

// Simulated pays nothing and mints a transaction id locally. Like a real
// provider it treats the application id as an idempotency key: a repeated
// disbursement for the same application returns the first transaction id.
type Simulated struct {
	log   logger.Logger
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	paid map[string]string
}

func NewSimulated(log logger.Logger) *Simulated {
	return &Simulated{log: log, now: time.Now, newID: uuid.NewString, paid: map[string]string{}}
}

func (s *Simulated) Disburse(ctx context.Context, app *models.LoanApplication) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("payment cancelled: %w", err)
	}
	if app.LoanAmount == nil {
		return "", errors.New("loan amount is not set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if txn, ok := s.paid[app.ID]; ok {
		s.log.Info("Disbursement already executed", map[string]interface{}{
			"applicationId": app.ID,
			"transactionId": txn,
		})
		return txn, nil
	}
	txn := TransactionID(s.now(), s.newID())
	s.paid[app.ID] = txn
	s.log.Info("Funds disbursed", map[string]interface{}{
		"applicationId": app.ID,
		"amount":        *app.LoanAmount,
		"transactionId": txn,
	})
	return txn, nil
}

type disburseRequest struct {
	ApplicationID string  `json:"applicationId"`
	Amount        float64 `json:"amount"`
	Beneficiary   string  `json:"beneficiary"`
	Email         string  `json:"email,omitempty"`
}

type disburseResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// HTTPGateway calls a payment provider's REST API. The application id is
// sent as the idempotency key so a retried stage cannot pay twice.
type HTTPGateway struct {
	client *commonhttp.Client
	log    logger.Logger
}

func NewHTTPGateway(cfg config.PaymentConfig, log logger.Logger) *HTTPGateway {
	opts := []commonhttp.Option{}
	if cfg.APIKey != "" {
		opts = append(opts, commonhttp.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	return &HTTPGateway{
		client: commonhttp.NewClient(cfg.BaseURL, config.GetDuration(cfg.Timeout), opts...),
		log:    log,
	}
}

func (g *HTTPGateway) Disburse(ctx context.Context, app *models.LoanApplication) (string, error) {
	if app.LoanAmount == nil {
		return "", errors.New("loan amount is not set")
	}

	var resp disburseResponse
	err := g.client.PostJSON(ctx, "/disbursements", disburseRequest{
		ApplicationID: app.ID,
		Amount:        *app.LoanAmount,
		Beneficiary:   app.ApplicantName,
		Email:         app.Email,
	}, &resp, map[string]string{"Idempotency-Key": app.ID})
	if err != nil {
		return "", fmt.Errorf("disburse %s: %w", app.ID, err)
	}

	if strings.EqualFold(resp.Status, "failed") || strings.EqualFold(resp.Status, "declined") {
		return "", fmt.Errorf("disburse %s: provider reported status %s", app.ID, resp.Status)
	}
	if resp.TransactionID == "" {
		return "", fmt.Errorf("disburse %s: provider returned no transaction id", app.ID)
	}

	g.log.Info("Funds disbursed", map[string]interface{}{
		"applicationId": app.ID,
		"transactionId": resp.TransactionID,
		"status":        resp.Status,
	})
	return resp.TransactionID, nil
}

// New selects the gateway for cfg.Mode.
func New(cfg config.PaymentConfig, log logger.Logger) (Gateway, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "simulated":
		return NewSimulated(log), nil
	case "http":
		return NewHTTPGateway(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown payment mode %q", cfg.Mode)
	}
}
