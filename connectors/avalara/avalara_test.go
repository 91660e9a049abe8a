package avalara

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
)

func newClient(url string) *Client {
	logger, _ := test.NewNullLogger()
	c := New(connectors.New("avalara", connectors.Options{
		Logger:  logger,
		BackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}), url)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestCreateTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/transactions/create", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "acct", user)
		assert.Equal(t, "license", pass)

		var req CreateTransactionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SalesOrder", req.Type)
		assert.Equal(t, "2024-03-01", req.Date)
		assert.False(t, req.Commit)

		_ = json.NewEncoder(w).Encode(Transaction{
			TotalTax: 1.5,
			Lines:    []LineResult{{LineNumber: "item-1", Tax: 1.5}},
		})
	}))
	defer srv.Close()

	tx, err := newClient(srv.URL).CreateTransaction(context.Background(), Credentials{Username: "acct", Password: "license"},
		CreateTransactionRequest{CompanyCode: "DEFAULT", Lines: []Line{{Number: "item-1", Quantity: 1, Amount: 20}}})
	require.NoError(t, err)
	assert.Equal(t, 1.5, tx.TotalTax)
	assert.Equal(t, "item-1", tx.Lines[0].LineNumber)
}

func TestCreateTransactionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"AuthenticationException"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.CreateTransaction(context.Background(), Credentials{}, CreateTransactionRequest{})
	assert.Equal(t, apperr.CodeInvalidCredentials, apperr.CodeOf(err))

	_, err = c.CreateTransaction(context.Background(), Credentials{Username: "a", Password: "b"}, CreateTransactionRequest{})
	assert.Equal(t, apperr.CodeConnectorError, apperr.CodeOf(err))
}
