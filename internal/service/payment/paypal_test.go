package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newPayPalServer(t *testing.T, orderHandler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "token-1"})
	})
	if orderHandler != nil {
		mux.HandleFunc("/v2/checkout/orders/", orderHandler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProcessor(srv *httptest.Server, secret string) *PayPalProcessor {
	return NewPayPalProcessor(PayPalConfig{
		ClientID:     "client",
		ClientSecret: secret,
		OAuthURL:     srv.URL + "/v1/oauth2/token",
		OrdersURL:    srv.URL + "/v2/checkout/orders/",
	}, srv.Client(), nil)
}

func TestPayPalProcessor_AccessToken(t *testing.T) {
	srv := newPayPalServer(t, nil)

	token, err := newProcessor(srv, "secret").AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-1", token)

	_, err = newProcessor(srv, "wrong").AccessToken(context.Background())
	require.ErrorIs(t, err, ErrProviderResponse)
}

func TestPayPalProcessor_TransactionStatus(t *testing.T) {
	srv := newPayPalServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "/v2/checkout/orders/TX-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "TX-1",
			"status": "COMPLETED",
			"purchase_units": [{"amount": {"currency_code": "USD", "value": "23.00"}}]
		}`))
	})

	status, err := newProcessor(srv, "secret").TransactionStatus(context.Background(), "TX-1", "token-1")
	require.NoError(t, err)
	require.True(t, status.Completed())
	require.Equal(t, "USD", status.Currency)
	require.True(t, status.Amount.Equal(decimal.NewFromInt(23)), status.Amount.String())
}

func TestPayPalProcessor_PendingOrderSkipsAmount(t *testing.T) {
	srv := newPayPalServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"TX-2","status":"APPROVED"}`))
	})

	status, err := newProcessor(srv, "secret").TransactionStatus(context.Background(), "TX-2", "token-1")
	require.NoError(t, err)
	require.False(t, status.Completed())
	require.True(t, status.Amount.IsZero())
}

func TestPayPalProcessor_TransactionStatusErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		srv := newPayPalServer(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"name":"RESOURCE_NOT_FOUND"}`, http.StatusNotFound)
		})
		_, err := newProcessor(srv, "secret").TransactionStatus(context.Background(), "TX-404", "token-1")
		require.ErrorIs(t, err, ErrProviderResponse)
	})

	incomplete := map[string]string{
		"bad amount":        `{"status":"COMPLETED","purchase_units":[{"amount":{"currency_code":"USD","value":"abc"}}]}`,
		"no purchase units": `{"id":"TX-1","status":"COMPLETED","purchase_units":[]}`,
		"units omitted":     `{"id":"TX-1","status":"COMPLETED"}`,
		"empty value":       `{"status":"COMPLETED","purchase_units":[{"amount":{"currency_code":"USD","value":""}}]}`,
		"no currency":       `{"status":"COMPLETED","purchase_units":[{"amount":{"value":"23.00"}}]}`,
	}
	for name, body := range incomplete {
		body := body
		t.Run(name, func(t *testing.T) {
			srv := newPayPalServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := newProcessor(srv, "secret").TransactionStatus(context.Background(), "TX-1", "token-1")
			require.ErrorIs(t, err, ErrProviderResponse)
		})
	}

	t.Run("context deadline", func(t *testing.T) {
		srv := newPayPalServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := newProcessor(srv, "secret").TransactionStatus(ctx, "TX-1", "token-1")
		require.Error(t, err)
		require.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}
