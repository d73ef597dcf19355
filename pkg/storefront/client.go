package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/cycle"
	"github.com/platinummonkey/rebill/pkg/httputil"
)

// Config configures the storefront client
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
	// PaymentPlanCategories are the product categories whose group pricing is
	// cancelled after repeated failures
	PaymentPlanCategories []string
	HTTPClient            *http.Client
}

// Client talks to the storefront API
type Client struct {
	baseURL    string
	client     *http.Client
	categories []string
	logger     *logrus.Logger
}

// NewClient creates a storefront client
func NewClient(ctx context.Context, config Config, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	var creds *httputil.ClientCredentials
	if config.ClientID != "" {
		creds = &httputil.ClientCredentials{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		client:     httputil.NewClient(ctx, creds, config.Timeout, config.HTTPClient),
		categories: config.PaymentPlanCategories,
		logger:     logger,
	}
}

type orderRequest struct {
	SubscriptionID      int64           `json:"subscription_id"`
	OriginalOrderLineID int64           `json:"original_order_line_id"`
	CustomerID          int64           `json:"customer_id"`
	ProductID           int64           `json:"product_id"`
	ProductName         string          `json:"product_name"`
	ProductModel        string          `json:"product_model,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	Placeholder         bool            `json:"placeholder"`
	CardID              int64           `json:"card_id"`
}

type orderResponse struct {
	OrderID int64 `json:"order_id"`
}

// CreateOrder records an order and returns its id
func (c *Client) CreateOrder(ctx context.Context, req billing.OrderRequest, cardID int64) (int64, error) {
	body := orderRequest{
		SubscriptionID:      req.SubscriptionID,
		OriginalOrderLineID: req.OriginalOrderLineID,
		CustomerID:          req.CustomerID,
		ProductID:           req.ProductID,
		ProductName:         req.ProductName,
		ProductModel:        req.ProductModel,
		Amount:              req.Amount,
		Currency:            req.Currency,
		TransactionID:       req.TransactionID,
		Placeholder:         req.Placeholder,
		CardID:              cardID,
	}

	var resp orderResponse
	if err := httputil.DoJSON(ctx, c.client, http.MethodPost, c.baseURL+"/v1/orders", body, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to create order for subscription %d: %w", req.SubscriptionID, err)
	}
	if resp.OrderID == 0 {
		return 0, fmt.Errorf("storefront returned no order id for subscription %d", req.SubscriptionID)
	}
	return resp.OrderID, nil
}

type licenseRequest struct {
	OrderID      int64  `json:"order_id"`
	ProductID    int64  `json:"product_id"`
	CustomerID   int64  `json:"customer_id"`
	NextDate     string `json:"next_date"`
	Domain       string `json:"domain,omitempty"`
	ProductName  string `json:"product_name"`
	ProductModel string `json:"product_model,omitempty"`
}

// AddLicense extends a license until the next charge date
func (c *Client) AddLicense(ctx context.Context, license billing.License) error {
	body := licenseRequest{
		OrderID:      license.OrderID,
		ProductID:    license.ProductID,
		CustomerID:   license.CustomerID,
		NextDate:     cycle.FormatDate(license.NextDate),
		Domain:       license.Domain,
		ProductName:  license.ProductName,
		ProductModel: license.ProductModel,
	}
	if err := httputil.DoJSON(ctx, c.client, http.MethodPost, c.baseURL+"/v1/licenses", body, nil, nil); err != nil {
		return fmt.Errorf("failed to add license for order %d: %w", license.OrderID, err)
	}
	return nil
}

// CancelSubscription removes a subscription from the storefront. A subscription
// that is already gone is not an error.
func (c *Client) CancelSubscription(ctx context.Context, originalOrderLineID int64) error {
	url := fmt.Sprintf("%s/v1/subscriptions/%d", c.baseURL, originalOrderLineID)
	err := httputil.DoJSON(ctx, c.client, http.MethodDelete, url, nil, nil, nil)

	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		c.logger.WithField("original_order_line_id", originalOrderLineID).Debug("Subscription already removed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel subscription for order line %d: %w", originalOrderLineID, err)
	}
	return nil
}

type quoteRequest struct {
	SubscriptionID int64           `json:"subscription_id"`
	CustomerID     int64           `json:"customer_id"`
	ProductID      int64           `json:"product_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Period         string          `json:"billing_period,omitempty"`
	Frequency      int             `json:"billing_frequency,omitempty"`
}

type quoteResponse struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
}

// RecomputeTotals asks the storefront for today's price of an occurrence
func (c *Client) RecomputeTotals(ctx context.Context, sub *billing.Subscription) (billing.Totals, error) {
	period, frequency, _ := sub.Schedule()
	body := quoteRequest{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		ProductID:      sub.ProductID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Period:         period,
		Frequency:      frequency,
	}

	var resp quoteResponse
	if err := httputil.DoJSON(ctx, c.client, http.MethodPost, c.baseURL+"/v1/pricing/quote", body, nil, &resp); err != nil {
		return billing.Totals{}, fmt.Errorf("failed to quote subscription %d: %w", sub.ID, err)
	}
	return billing.Totals{Subtotal: resp.Subtotal, Total: resp.Total}, nil
}

type groupPricingRequest struct {
	ProductID  int64    `json:"product_id"`
	CustomerID int64    `json:"customer_id"`
	Categories []string `json:"categories,omitempty"`
}

// CreateGroupPricing creates group pricing for a renewed product
func (c *Client) CreateGroupPricing(ctx context.Context, productID, customerID int64) error {
	body := groupPricingRequest{ProductID: productID, CustomerID: customerID}
	if err := httputil.DoJSON(ctx, c.client, http.MethodPost, c.baseURL+"/v1/group-pricing", body, nil, nil); err != nil {
		return fmt.Errorf("failed to create group pricing for customer %d: %w", customerID, err)
	}
	return nil
}

// ScheduleCancellationIfEligible lets the storefront schedule group pricing
// cancellation for payment plan products. The storefront applies the failure policy.
func (c *Client) ScheduleCancellationIfEligible(ctx context.Context, customerID, productID int64) error {
	body := groupPricingRequest{ProductID: productID, CustomerID: customerID, Categories: c.categories}
	url := c.baseURL + "/v1/group-pricing/cancellations"
	if err := httputil.DoJSON(ctx, c.client, http.MethodPost, url, body, nil, nil); err != nil {
		return fmt.Errorf("failed to schedule group pricing cancellation for customer %d: %w", customerID, err)
	}
	return nil
}
