package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const revenueCatBaseURL = "https://api.revenuecat.com/v1"

// Entitlement decides whether a user may download final documents.
type Entitlement interface {
	HasAccess(ctx context.Context, userID string) (bool, error)
}

// RevenueCatEntitlement checks a RevenueCat subscriber for an active
// entitlement. Without an API key every user is granted access.
type RevenueCatEntitlement struct {
	apiKey        string
	entitlementID string
	baseURL       string
	httpClient    *retryablehttp.Client
	now           func() time.Time
}

// NewRevenueCatEntitlement creates a client for the RevenueCat REST API
func NewRevenueCatEntitlement(apiKey, entitlementID string) *RevenueCatEntitlement {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = log.WithField("service", "revenuecat")
	client.HTTPClient = NewHttpClientWithBearerTransport(apiKey)

	return &RevenueCatEntitlement{
		apiKey:        apiKey,
		entitlementID: entitlementID,
		baseURL:       revenueCatBaseURL,
		httpClient:    client,
		now:           time.Now,
	}
}

type revenueCatSubscriber struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ExpiresDate       *string `json:"expires_date"`
			ProductIdentifier string  `json:"product_identifier"`
		} `json:"entitlements"`
	} `json:"subscriber"`
}

// HasAccess reports whether userID holds the configured entitlement and it
// has not expired. Lifetime entitlements carry no expiry date.
func (e *RevenueCatEntitlement) HasAccess(ctx context.Context, userID string) (bool, error) {
	logger := log.WithField("user_id", userID)
	if e.apiKey == "" {
		logger.Debug("Entitlement check in mock mode, granting access")
		return true, nil
	}

	endpoint := e.baseURL + "/subscribers/" + url.PathEscape(userID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("error creating RevenueCat request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("error sending request to RevenueCat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		logger.Debug("Unknown subscriber")
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("RevenueCat returned status %d: %s", resp.StatusCode, string(body))
	}

	var subscriber revenueCatSubscriber
	if err := json.NewDecoder(resp.Body).Decode(&subscriber); err != nil {
		return false, fmt.Errorf("error decoding RevenueCat response: %w", err)
	}

	entitlement, ok := subscriber.Subscriber.Entitlements[e.entitlementID]
	if !ok {
		return false, nil
	}
	if entitlement.ExpiresDate == nil || *entitlement.ExpiresDate == "" {
		return true, nil
	}
	expires, err := time.Parse(time.RFC3339, *entitlement.ExpiresDate)
	if err != nil {
		return false, fmt.Errorf("invalid entitlement expiry %q: %w", *entitlement.ExpiresDate, err)
	}
	active := expires.After(e.now())
	logger.WithField("expires", expires).Debugf("Entitlement active: %t", active)
	return active, nil
}
