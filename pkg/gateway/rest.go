package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/httputil"
)

// RESTConfig configures a card-vault gateway reached over JSON
type RESTConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
	// HTTPClient overrides the base transport, mostly for tests
	HTTPClient *http.Client
}

// RESTGateway charges vaulted cards through POST {BaseURL}/v1/charges
type RESTGateway struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

type restChargeRequest struct {
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	PaymentToken      string            `json:"payment_token"`
	CustomerReference string            `json:"customer_reference,omitempty"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type restChargeResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewRESTGateway creates a gateway authenticated with OAuth2 client credentials
func NewRESTGateway(ctx context.Context, config RESTConfig, logger *logrus.Logger) *RESTGateway {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	var creds *httputil.ClientCredentials
	if config.ClientID != "" {
		creds = &httputil.ClientCredentials{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
			Scopes:       config.Scopes,
		}
	}
	return &RESTGateway{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client:  httputil.NewClient(ctx, creds, config.Timeout, config.HTTPClient),
		logger:  logger,
	}
}

// Charge requests a charge against the card's vault token.
// 402 and 422 responses are declines; anything else outside 2xx is an error.
func (g *RESTGateway) Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	if req.Card == nil {
		return billing.ChargeResult{}, errors.New("charge request has no card")
	}

	body := restChargeRequest{
		Amount:            FormatAmount(req.Amount, req.Currency),
		Currency:          strings.ToUpper(req.Currency),
		PaymentToken:      req.Card.VaultToken,
		CustomerReference: req.Card.GatewayCustomerID,
		Description:       req.Description,
		Metadata: map[string]string{
			"subscription_id": fmt.Sprintf("%d", req.SubscriptionID),
			"customer_id":     fmt.Sprintf("%d", req.CustomerID),
		},
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	var resp restChargeResponse
	err := httputil.DoJSON(ctx, g.client, http.MethodPost, g.baseURL+"/v1/charges", body, headers, &resp)

	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) && isDeclineStatus(statusErr.StatusCode) {
		var declined restChargeResponse
		_ = statusErr.DecodeBody(&declined)
		return billing.ChargeResult{
			TransactionID: declined.ID,
			ErrorMessage:  declined.reason(),
		}, nil
	}
	if err != nil {
		return billing.ChargeResult{}, fmt.Errorf("failed to charge subscription %d: %w", req.SubscriptionID, err)
	}

	switch strings.ToLower(resp.Status) {
	case "approved", "succeeded", "completed", "captured":
		return billing.ChargeResult{Success: true, TransactionID: resp.ID}, nil
	default:
		g.logger.WithFields(logrus.Fields{
			"subscription_id": req.SubscriptionID,
			"status":          resp.Status,
		}).Info("Charge not approved")
		return billing.ChargeResult{TransactionID: resp.ID, ErrorMessage: resp.reason()}, nil
	}
}

func (r restChargeResponse) reason() string {
	switch {
	case r.Message != "":
		return r.Message
	case r.Error != "":
		return r.Error
	case r.Status != "":
		return "charge " + strings.ToLower(r.Status)
	default:
		return ""
	}
}

func isDeclineStatus(code int) bool {
	return code == http.StatusPaymentRequired || code == http.StatusUnprocessableEntity
}
