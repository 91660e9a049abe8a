// Package payments defines the payment processor contract and card checks.
package payments

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
)

// Card is the raw card data sent with a payment. It is never stored.
type Card struct {
	Number          string `json:"card_number" validate:"required,number,min=14,max=16"`
	ExpirationMonth string `json:"expiration_month" validate:"required,number,min=1,max=2"`
	ExpirationYear  string `json:"expiration_year" validate:"required,number,len=4"`
	CVV             string `json:"cvv2" validate:"required,number,min=3,max=4"`
	HolderName      string `json:"holder_name"`
}

// Last4 returns the last four digits of the card number.
func (c Card) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

var validate = validator.New()

// ValidateCard checks the card's digit patterns.
func ValidateCard(c Card) error {
	if err := validate.Struct(c); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid card details")
	}
	return nil
}

// AuthorizeRequest asks a processor to authorize (or authorize and capture) an amount.
type AuthorizeRequest struct {
	Card     Card
	Amount   decimal.Decimal
	Currency string
	Mode     string
	// Reference identifies the request on the processor side.
	Reference string
}

// Result is the outcome of a capture, void or refund.
type Result struct {
	Saved         bool   `json:"saved"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Refund is one refund recorded by a processor.
type Refund struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// Processor is a payment gateway. Shop carries the per-shop credentials.
type Processor interface {
	Name() string
	Authorize(ctx context.Context, shop *models.Shop, req AuthorizeRequest) (*models.PaymentMethod, error)
	Capture(ctx context.Context, shop *models.Shop, pm *models.PaymentMethod) (*Result, error)
	Void(ctx context.Context, shop *models.Shop, pm *models.PaymentMethod) (*Result, error)
	Refund(ctx context.Context, shop *models.Shop, pm *models.PaymentMethod, amount decimal.Decimal) (*Result, error)
	ListRefunds(ctx context.Context, shop *models.Shop, pm *models.PaymentMethod) ([]Refund, error)
}

// Registry resolves processors by name.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
	fallback   string
}

// NewRegistry registers ps; the first is used when a shop names none.
func NewRegistry(ps ...Processor) *Registry {
	r := &Registry{processors: map[string]Processor{}}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallback == "" {
		r.fallback = p.Name()
	}
	r.processors[p.Name()] = p
}

// Get returns the processor called name.
func (r *Registry) Get(name string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	if !ok {
		return nil, apperr.Newf(apperr.CodeInvalidParameter, "Unknown payment processor %q", name)
	}
	return p, nil
}

// ForShop returns the shop's configured processor or the default one.
func (r *Registry) ForShop(shop *models.Shop) (Processor, error) {
	name := shop.Settings.Payments.Processor
	if name == "" {
		r.mu.RLock()
		name = r.fallback
		r.mu.RUnlock()
	}
	return r.Get(name)
}
