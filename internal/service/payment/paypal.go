package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrProviderResponse — провайдер ответил неуспешным HTTP-статусом или неполным телом.
var ErrProviderResponse = errors.New("payment provider returned unexpected status")

// PayPalConfig описывает подключение к PayPal REST API.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	OAuthURL     string
	OrdersURL    string
}

// PayPalProcessor получает токен client_credentials и статус заказа PayPal.
type PayPalProcessor struct {
	cfg    PayPalConfig
	client *http.Client
	logger *log.Entry
}

// NewPayPalProcessor создаёт клиента. client == nil заменяется клиентом с таймаутом.
func NewPayPalProcessor(cfg PayPalConfig, client *http.Client, logger *log.Entry) *PayPalProcessor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if logger == nil {
		logger = log.WithField("component", "paypal")
	}
	cfg.OrdersURL = strings.TrimRight(cfg.OrdersURL, "/")
	return &PayPalProcessor{cfg: cfg, client: client, logger: logger}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type orderStatusResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

// AccessToken запрашивает bearer-токен по client_credentials.
func (p *PayPalProcessor) AccessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body tokenResponse
	if err := p.do(req, &body); err != nil {
		p.logger.WithError(err).Warn("paypal token request failed")
		return "", err
	}
	return body.AccessToken, nil
}

// TransactionStatus возвращает статус и сумму первой purchase unit заказа PayPal.
// Для незавершённого заказа сумма не разбирается.
func (p *PayPalProcessor) TransactionStatus(ctx context.Context, transactionID, token string) (domain.TransactionStatus, error) {
	endpoint := p.cfg.OrdersURL + "/" + url.PathEscape(transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.TransactionStatus{}, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var body orderStatusResponse
	if err := p.do(req, &body); err != nil {
		p.logger.WithError(err).WithField("transaction_id", transactionID).Warn("paypal order request failed")
		return domain.TransactionStatus{}, err
	}

	status := domain.TransactionStatus{ID: body.ID, Status: body.Status}
	if !status.Completed() {
		return status, nil
	}

	// Завершённая транзакция без суммы не может подтвердить оплату.
	if len(body.PurchaseUnits) == 0 {
		return domain.TransactionStatus{}, fmt.Errorf("%w: completed order %s has no purchase units", ErrProviderResponse, body.ID)
	}
	amount := body.PurchaseUnits[0].Amount
	if strings.TrimSpace(amount.Value) == "" || strings.TrimSpace(amount.CurrencyCode) == "" {
		return domain.TransactionStatus{}, fmt.Errorf("%w: completed order %s has no amount", ErrProviderResponse, body.ID)
	}
	value, err := decimal.NewFromString(amount.Value)
	if err != nil {
		return domain.TransactionStatus{}, fmt.Errorf("%w: parse purchase amount %q: %v", ErrProviderResponse, amount.Value, err)
	}
	status.Amount = value
	status.Currency = strings.ToUpper(strings.TrimSpace(amount.CurrencyCode))
	return status, nil
}

func (p *PayPalProcessor) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrProviderResponse, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paypal response: %w", err)
	}
	return nil
}

var _ domain.PaymentProcessor = (*PayPalProcessor)(nil)
