// Package mpesa talks to the Daraja STK push API on behalf of a landlord,
// using that landlord's own merchant credentials.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rentpay/internal/domain"
)

const (
	tokenPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath   = "/mpesa/stkpush/v1/processrequest"
	responseOK    = "0"
	payBillOnline = "CustomerPayBillOnline"
)

type Config struct {
	SandboxURL    string
	ProductionURL string
	CallbackURL   string
	Location      *time.Location
	Timeout       time.Duration
}

type PaymentRequest struct {
	Amount           decimal.Decimal
	PhoneNumber      string
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("EAT", 3*60*60)
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		logger: logger,
	}
}

func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) baseURL(env domain.Environment) string {
	if env == domain.EnvironmentProduction {
		return c.cfg.ProductionURL
	}
	return c.cfg.SandboxURL
}

// FetchToken exchanges the landlord's consumer key and secret for a bearer
// token. The returned duration is the lifetime the gateway advertised, zero
// when it did not say.
func (c *Client) FetchToken(ctx context.Context, cred *domain.GatewayCredential) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(cred.Environment)+tokenPath, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(cred.ConsumerKey, cred.ConsumerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %v: %w", err, domain.ErrGatewayUnavailable)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %v: %w", err, domain.ErrGatewayUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("token request returned %d: %w", resp.StatusCode, domain.ErrGatewayUnavailable)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token: %w", domain.ErrGatewayUnavailable)
	}

	var expiresIn time.Duration
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		expiresIn = time.Duration(secs) * time.Second
	}
	return tr.AccessToken, expiresIn, nil
}

// PushPayment submits an STK push prompt to the tenant's phone. A nil error
// means the gateway accepted the request; the outcome arrives later by callback.
func (c *Client) PushPayment(ctx context.Context, cred *domain.GatewayCredential, token string, pr PaymentRequest) (*PushResponse, error) {
	timestamp := Timestamp(c.now(), c.cfg.Location)
	payload := stkPushRequest{
		BusinessShortCode: cred.Shortcode,
		Password:          Password(cred.Shortcode, cred.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   payBillOnline,
		Amount:            pr.Amount.IntPart(),
		PartyA:            pr.PhoneNumber,
		PartyB:            cred.Shortcode,
		PhoneNumber:       pr.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  pr.AccountReference,
		TransactionDesc:   pr.Description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(cred.Environment)+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create stk push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stk push request failed: %v: %w", err, domain.ErrGatewayUnavailable)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read stk push response: %v: %w", err, domain.ErrGatewayUnavailable)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("stk push returned %d: %w", resp.StatusCode, domain.ErrGatewayUnavailable)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("stk push returned %d: %w", resp.StatusCode, domain.ErrTokenRejected)
	case resp.StatusCode >= 400:
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return nil, fmt.Errorf("stk push rejected (%s): %s: %w", apiErr.ErrorCode, apiErr.ErrorMessage, domain.ErrInitiationFailed)
		}
		return nil, fmt.Errorf("stk push rejected with status %d: %w", resp.StatusCode, domain.ErrInitiationFailed)
	}

	var pushResp PushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		return nil, fmt.Errorf("failed to decode stk push response: %v: %w", err, domain.ErrGatewayUnavailable)
	}
	if pushResp.ResponseCode != responseOK {
		return nil, fmt.Errorf("stk push rejected (%s): %s: %w", pushResp.ResponseCode, pushResp.ResponseDescription, domain.ErrInitiationFailed)
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("stk push accepted without CheckoutRequestID: %w", domain.ErrInitiationFailed)
	}

	c.logger.Debug("STK push accepted",
		zap.String("landlord_id", cred.LandlordID),
		zap.String("checkout_request_id", pushResp.CheckoutRequestID),
	)
	return &pushResp, nil
}
