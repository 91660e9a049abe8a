// Package example is an in-process payment processor for development and
// demos. It approves any valid card except the decline test number.
package example

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/payments"
)

const (
	Name = "example"

	// DeclineCard is always declined.
	DeclineCard = "4000000000000002"
)

// Processor keeps refunds in memory, keyed by transaction id.
type Processor struct {
	mu      sync.Mutex
	refunds map[string][]payments.Refund
	now     func() time.Time
}

func New() *Processor {
	return &Processor{refunds: map[string][]payments.Refund{}, now: time.Now}
}

func (p *Processor) Name() string { return Name }

func (p *Processor) Authorize(_ context.Context, _ *models.Shop, req payments.AuthorizeRequest) (*models.PaymentMethod, error) {
	if err := payments.ValidateCard(req.Card); err != nil {
		return nil, err
	}
	if req.Card.Number == DeclineCard {
		return nil, apperr.New(apperr.CodePaymentFailed, "Card declined")
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeAuthorize
	}
	return &models.PaymentMethod{
		Processor:     Name,
		Method:        "credit",
		Mode:          mode,
		Status:        models.PaymentCreated,
		TransactionID: uuid.NewString(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		CardLast4:     req.Card.Last4(),
		CreatedAt:     p.now().UTC(),
	}, nil
}

func (p *Processor) Capture(_ context.Context, _ *models.Shop, pm *models.PaymentMethod) (*payments.Result, error) {
	return &payments.Result{Saved: true, TransactionID: pm.TransactionID}, nil
}

func (p *Processor) Void(_ context.Context, _ *models.Shop, pm *models.PaymentMethod) (*payments.Result, error) {
	return &payments.Result{Saved: true, TransactionID: pm.TransactionID}, nil
}

// Refund records amount against the payment. Refunds may not exceed the
// captured amount in total.
func (p *Processor) Refund(_ context.Context, _ *models.Shop, pm *models.PaymentMethod, amount decimal.Decimal) (*payments.Result, error) {
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Refund amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	refunded := decimal.Zero
	for _, r := range p.refunds[pm.TransactionID] {
		refunded = refunded.Add(r.Amount)
	}
	if refunded.Add(amount).GreaterThan(pm.Amount) {
		return &payments.Result{Saved: false, Error: "Refund exceeds captured amount"}, nil
	}
	id := uuid.NewString()
	p.refunds[pm.TransactionID] = append(p.refunds[pm.TransactionID], payments.Refund{
		TransactionID: id,
		Amount:        amount,
		Currency:      pm.Currency,
	})
	return &payments.Result{Saved: true, TransactionID: id}, nil
}

func (p *Processor) ListRefunds(_ context.Context, _ *models.Shop, pm *models.PaymentMethod) ([]payments.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]payments.Refund, len(p.refunds[pm.TransactionID]))
	copy(out, p.refunds[pm.TransactionID])
	return out, nil
}

var _ payments.Processor = (*Processor)(nil)
