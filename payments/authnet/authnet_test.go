package authnet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
	"reaction-commerce/models"
	"reaction-commerce/payments"
)

type gateway struct {
	t        *testing.T
	requests []createTransactionRequest
	reply    func(tx transactionRequest) transactionResponse
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var env envelope
	assert.NoError(g.t, json.NewDecoder(r.Body).Decode(&env))
	g.requests = append(g.requests, env.CreateTransactionRequest)
	body, _ := json.Marshal(map[string]interface{}{
		"transactionResponse": g.reply(env.CreateTransactionRequest.TransactionRequest),
		"messages":            map[string]interface{}{"resultCode": "Ok"},
	})
	// The real gateway prefixes a byte order mark.
	_, _ = w.Write(append([]byte("\xef\xbb\xbf"), body...))
}

func setup(t *testing.T, reply func(tx transactionRequest) transactionResponse) (*Processor, *gateway, *models.Shop) {
	g := &gateway{t: t, reply: reply}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	p := New(connectors.New("authnet", connectors.Options{
		Logger:  logger,
		BackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}), srv.URL, logger)

	shop := &models.Shop{ID: "shop-1"}
	shop.Settings.AuthNet = models.AuthNetSettings{Enabled: true, APIID: "login", TransactionKey: "key"}
	return p, g, shop
}

func approve(tx transactionRequest) transactionResponse {
	return transactionResponse{ResponseCode: "1", TransID: "60001"}
}

var card = payments.Card{Number: "4111111111111111", ExpirationMonth: "4", ExpirationYear: "2030", CVV: "123"}

func TestAuthorize(t *testing.T) {
	p, g, shop := setup(t, approve)
	pm, err := p.Authorize(context.Background(), shop, payments.AuthorizeRequest{
		Card: card, Amount: decimal.RequireFromString("25.5"), Currency: "USD", Mode: models.ModeAuthorize, Reference: "cart-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "60001", pm.TransactionID)
	assert.Equal(t, models.PaymentCreated, pm.Status)
	assert.Equal(t, "1111", pm.CardLast4)

	require.Len(t, g.requests, 1)
	req := g.requests[0]
	assert.Equal(t, "login", req.MerchantAuthentication.Name)
	assert.Equal(t, authOnly, req.TransactionRequest.TransactionType)
	assert.Equal(t, "25.50", req.TransactionRequest.Amount)
	assert.Equal(t, "2030-04", req.TransactionRequest.Payment.CreditCard.ExpirationDate)
}

func TestAuthorizeDeclined(t *testing.T) {
	p, _, shop := setup(t, func(transactionRequest) transactionResponse {
		return transactionResponse{ResponseCode: "2", Errors: []transactionError{{ErrorCode: "2", ErrorText: "This transaction has been declined."}}}
	})
	_, err := p.Authorize(context.Background(), shop, payments.AuthorizeRequest{Card: card, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, apperr.CodePaymentFailed, apperr.CodeOf(err))
	assert.Equal(t, "This transaction has been declined.", apperr.MessageOf(err))
}

func TestMissingCredentials(t *testing.T) {
	p, g, _ := setup(t, approve)
	_, err := p.Authorize(context.Background(), &models.Shop{}, payments.AuthorizeRequest{Card: card, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, apperr.CodeInvalidCredentials, apperr.CodeOf(err))
	assert.Empty(t, g.requests)
}

func TestCapture(t *testing.T) {
	p, g, shop := setup(t, approve)
	res, err := p.Capture(context.Background(), shop, &models.PaymentMethod{TransactionID: "60001", Amount: decimal.RequireFromString("10.004")})
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, priorAuthCapture, g.requests[0].TransactionRequest.TransactionType)
	assert.Equal(t, "10.00", g.requests[0].TransactionRequest.Amount)
	assert.Equal(t, "60001", g.requests[0].TransactionRequest.RefTransID)
}

func TestCaptureZeroVoids(t *testing.T) {
	p, g, shop := setup(t, approve)
	res, err := p.Capture(context.Background(), shop, &models.PaymentMethod{TransactionID: "60001", Amount: decimal.Zero})
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, void, g.requests[0].TransactionRequest.TransactionType)
}

func TestCaptureRejected(t *testing.T) {
	p, _, shop := setup(t, func(transactionRequest) transactionResponse {
		return transactionResponse{ResponseCode: "3", Errors: []transactionError{{ErrorText: "expired"}}}
	})
	res, err := p.Capture(context.Background(), shop, &models.PaymentMethod{TransactionID: "1", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Equal(t, "expired", res.Error)
}

func TestRefundUnsupported(t *testing.T) {
	p, g, shop := setup(t, approve)
	res, err := p.Refund(context.Background(), shop, &models.PaymentMethod{}, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Contains(t, res.Error, "does not yet support direct refund processing")
	assert.Empty(t, g.requests)

	_, err = p.ListRefunds(context.Background(), shop, &models.PaymentMethod{})
	assert.Error(t, err)
}

func TestLiveModeUsesProductionURL(t *testing.T) {
	p, _, shop := setup(t, approve)
	shop.Settings.AuthNet.Live = true
	_, url, err := p.credentials(shop)
	require.NoError(t, err)
	assert.Equal(t, LiveURL, url)
}

// flakyGateway answers 503 to the first request and approves after that.
func flakyGateway(t *testing.T) (*Processor, *int32, *models.Shop) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transactionResponse": approve(transactionRequest{}),
			"messages":            map[string]interface{}{"resultCode": "Ok"},
		})
	}))
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	p := New(connectors.New("authnet", connectors.Options{
		MaxRetries: 3,
		Logger:     logger,
		BackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}), srv.URL, logger)
	shop := &models.Shop{ID: "shop-1"}
	shop.Settings.AuthNet = models.AuthNetSettings{Enabled: true, APIID: "login", TransactionKey: "key"}
	return p, &calls, shop
}

func TestAuthorizeIsSentOnce(t *testing.T) {
	for _, mode := range []string{models.ModeAuthorize, models.ModeCapture} {
		p, calls, shop := flakyGateway(t)
		_, err := p.Authorize(context.Background(), shop, payments.AuthorizeRequest{Card: card, Amount: decimal.NewFromInt(1), Mode: mode})
		assert.Equal(t, apperr.CodeConnectorError, apperr.CodeOf(err), mode)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls), mode)
	}
}

func TestCaptureIsRetried(t *testing.T) {
	p, calls, shop := flakyGateway(t)
	res, err := p.Capture(context.Background(), shop, &models.PaymentMethod{TransactionID: "60001", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}
