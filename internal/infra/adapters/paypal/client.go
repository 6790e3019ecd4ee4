package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/adapter"
	"subscription-reconciler/internal/infra/metrics"
)

// Ensure Client implements adapter.BillingProvider
var _ adapter.BillingProvider = (*Client)(nil)

const providerName = "paypal"

// Client reads subscription state from the PayPal Subscriptions API. Access
// tokens are fetched with the client-credentials grant and cached until
// shortly before expiry. All calls go through a shared rate limiter so a
// large run stays inside the API budget.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string

	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(baseURL, clientID, clientSecret string, ratePerSec float64, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), 1),
		log:          log.With().Str("component", "paypal-client").Logger(),
	}
}

func (c *Client) Name() string { return providerName }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type subscriptionResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	UpdateTime  string `json:"update_time"`
	BillingInfo *struct {
		LastPayment *struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
			Time string `json:"time"`
		} `json:"last_payment"`
	} `json:"billing_info"`
}

// GetSubscription fetches the live state of one subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (sub *adapter.ProviderSubscription, err error) {
	defer func() { metrics.IncProviderRequest(providerName, err) }()

	if err = c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/v1/billing/subscriptions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		// Token may have been revoked early; drop the cache so the next
		// call re-authenticates.
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: unauthorized", domain.ErrProviderUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var body subscriptionResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return mapSubscription(&body)
}

func mapSubscription(body *subscriptionResponse) (*adapter.ProviderSubscription, error) {
	out := &adapter.ProviderSubscription{
		ID:     body.ID,
		Status: mapStatus(body.Status),
	}
	if body.UpdateTime != "" {
		t, err := time.Parse(time.RFC3339, body.UpdateTime)
		if err != nil {
			return nil, fmt.Errorf("%w: update_time: %v", domain.ErrProviderUnavailable, err)
		}
		out.DateUpdated = t
	}
	if body.BillingInfo != nil && body.BillingInfo.LastPayment != nil {
		lp := body.BillingInfo.LastPayment
		t, err := time.Parse(time.RFC3339, lp.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: last_payment.time: %v", domain.ErrProviderUnavailable, err)
		}
		amount, err := strconv.ParseFloat(lp.Amount.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: last_payment.amount: %v", domain.ErrProviderUnavailable, err)
		}
		out.LastPayment = &model.Payment{
			Date:     t,
			Amount:   amount,
			Currency: lp.Amount.CurrencyCode,
		}
	}
	return out, nil
}

// mapStatus normalizes provider statuses onto the local lifecycle. The two
// pre-activation states both map to PENDING.
func mapStatus(s string) model.SubscriptionStatus {
	switch s {
	case "ACTIVE":
		return model.SubscriptionStatusActive
	case "APPROVAL_PENDING", "APPROVED":
		return model.SubscriptionStatusPending
	case "SUSPENDED":
		return model.SubscriptionStatusSuspended
	case "CANCELLED":
		return model.SubscriptionStatusCancelled
	case "EXPIRED":
		return model.SubscriptionStatusExpired
	default:
		return model.SubscriptionStatus(s)
	}
}

// token returns a cached access token, refreshing it when less than a minute
// of validity remains.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: token: %v", domain.ErrProviderUnavailable, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: token: empty access_token", domain.ErrProviderUnavailable)
	}

	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	c.log.Debug().Time("expiry", c.tokenExpiry).Msg("access token refreshed")
	return c.accessToken, nil
}
