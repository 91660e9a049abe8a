// Package authnet is the Authorize.Net payment processor (JSON API).
package authnet

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
	"reaction-commerce/models"
	"reaction-commerce/payments"
)

const (
	Name = "authnet"

	// LiveURL is the production endpoint, used for shops with live mode on.
	LiveURL = "https://api.authorize.net/xml/v1/request.api"

	responseApproved = "1"

	refundUnsupported = "Reaction does not yet support direct refund processing from Authorize.net. " +
		"Please visit their web portal to perform this action."
)

// Transaction types.
const (
	authCapture      = "authCaptureTransaction"
	authOnly         = "authOnlyTransaction"
	priorAuthCapture = "priorAuthCaptureTransaction"
	void             = "voidTransaction"
)

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode"`
}

type payment struct {
	CreditCard creditCard `json:"creditCard"`
}

type transactionRequest struct {
	TransactionType string   `json:"transactionType"`
	Amount          string   `json:"amount,omitempty"`
	Payment         *payment `json:"payment,omitempty"`
	RefTransID      string   `json:"refTransId,omitempty"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type envelope struct {
	CreateTransactionRequest createTransactionRequest `json:"createTransactionRequest"`
}

type transactionError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

type message struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type transactionResponse struct {
	ResponseCode string             `json:"responseCode"`
	TransID      string             `json:"transId"`
	AccountNum   string             `json:"accountNumber"`
	Errors       []transactionError `json:"errors"`
}

type response struct {
	TransactionResponse transactionResponse `json:"transactionResponse"`
	Messages            struct {
		ResultCode string    `json:"resultCode"`
		Message    []message `json:"message"`
	} `json:"messages"`
}

func (r *response) approved() bool {
	return r.TransactionResponse.ResponseCode == responseApproved
}

func (r *response) errorText() string {
	if errs := r.TransactionResponse.Errors; len(errs) > 0 {
		return errs[0].ErrorText
	}
	if msgs := r.Messages.Message; len(msgs) > 0 {
		return msgs[0].Text
	}
	return "Transaction declined"
}

// Processor sends transactions to Authorize.Net.
type Processor struct {
	http    *connectors.Client
	testURL string
	logger  logrus.FieldLogger
	now     func() time.Time
}

// New returns a processor that uses testURL for shops not in live mode.
func New(http *connectors.Client, testURL string, logger logrus.FieldLogger) *Processor {
	return &Processor{http: http, testURL: testURL, logger: logger.WithField("processor", Name), now: time.Now}
}

func (p *Processor) Name() string { return Name }

func (p *Processor) credentials(shop *models.Shop) (merchantAuthentication, string, error) {
	s := shop.Settings.AuthNet
	if s.APIID == "" {
		return merchantAuthentication{}, "", apperr.New(apperr.CodeInvalidCredentials, "Invalid Authnet Credentials")
	}
	url := p.testURL
	if s.Live {
		url = LiveURL
	}
	return merchantAuthentication{Name: s.APIID, TransactionKey: s.TransactionKey}, url, nil
}

func (p *Processor) send(ctx context.Context, shop *models.Shop, ref string, tx transactionRequest) (*response, error) {
	auth, url, err := p.credentials(shop)
	if err != nil {
		return nil, err
	}
	body := envelope{CreateTransactionRequest: createTransactionRequest{
		MerchantAuthentication: auth,
		RefID:                  ref,
		TransactionRequest:     tx,
	}}
	var opts []connectors.RequestOption
	if tx.TransactionType == authOnly || tx.TransactionType == authCapture {
		// A repeated authorization is a second charge.
		opts = append(opts, connectors.WithoutRetry())
	}
	var resp response
	if err := p.http.PostJSON(ctx, url, body, &resp, opts...); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConnectorError, "Error calling Authorize.Net")
	}
	return &resp, nil
}

// refID fits the gateway's 20 character limit.
func refID(ref string) string {
	if len(ref) > 20 {
		return ref[len(ref)-20:]
	}
	return ref
}

func (p *Processor) Authorize(ctx context.Context, shop *models.Shop, req payments.AuthorizeRequest) (*models.PaymentMethod, error) {
	if err := payments.ValidateCard(req.Card); err != nil {
		return nil, err
	}
	txType := authOnly
	if req.Mode == models.ModeCapture {
		txType = authCapture
	}
	month := req.Card.ExpirationMonth
	if len(month) == 1 {
		month = "0" + month
	}
	resp, err := p.send(ctx, shop, refID(req.Reference), transactionRequest{
		TransactionType: txType,
		Amount:          req.Amount.StringFixed(2),
		Payment: &payment{CreditCard: creditCard{
			CardNumber:     req.Card.Number,
			ExpirationDate: fmt.Sprintf("%s-%s", req.Card.ExpirationYear, month),
			CardCode:       req.Card.CVV,
		}},
	})
	if err != nil {
		return nil, err
	}
	if !resp.approved() {
		p.logger.WithField("response_code", resp.TransactionResponse.ResponseCode).Warn("authorization declined")
		return nil, apperr.New(apperr.CodePaymentFailed, resp.errorText())
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
		TransactionID: resp.TransactionResponse.TransID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CardLast4:     req.Card.Last4(),
		CreatedAt:     p.now().UTC(),
	}, nil
}

// Capture settles a prior authorization. Capturing zero voids it instead.
func (p *Processor) Capture(ctx context.Context, shop *models.Shop, pm *models.PaymentMethod) (*payments.Result, error) {
	amount := pm.Amount.StringFixed(2)
	if amount == decimal.Zero.StringFixed(2) {
		return p.Void(ctx, shop, pm)
	}
	return p.result(p.send(ctx, shop, "", transactionRequest{
		TransactionType: priorAuthCapture,
		Amount:          amount,
		RefTransID:      pm.TransactionID,
	}))
}

func (p *Processor) Void(ctx context.Context, shop *models.Shop, pm *models.PaymentMethod) (*payments.Result, error) {
	return p.result(p.send(ctx, shop, "", transactionRequest{
		TransactionType: void,
		RefTransID:      pm.TransactionID,
	}))
}

func (p *Processor) result(resp *response, err error) (*payments.Result, error) {
	if err != nil {
		return nil, err
	}
	if !resp.approved() {
		return &payments.Result{Saved: false, Error: resp.errorText()}, nil
	}
	return &payments.Result{Saved: true, TransactionID: resp.TransactionResponse.TransID}, nil
}

// Refund is not supported through the API.
func (p *Processor) Refund(context.Context, *models.Shop, *models.PaymentMethod, decimal.Decimal) (*payments.Result, error) {
	return &payments.Result{Saved: false, Error: refundUnsupported}, nil
}

func (p *Processor) ListRefunds(context.Context, *models.Shop, *models.PaymentMethod) ([]payments.Refund, error) {
	return nil, apperr.Wrap(errors.New("not implemented"), apperr.CodeInvalidParameter,
		"Authorize.net does not yet support retrieving a list of refunds.")
}

var _ payments.Processor = (*Processor)(nil)
