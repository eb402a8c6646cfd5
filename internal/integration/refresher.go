package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuthRefresher exchanges refresh tokens against provider token endpoints
// using the standard refresh_token grant.
type OAuthRefresher struct {
	endpoints map[string]string
	cipher    *Cipher
	client    *http.Client
	now       func() time.Time
}

// NewOAuthRefresher maps provider names to token endpoint URLs. The cipher is
// needed to open the stored refresh token before the exchange.
func NewOAuthRefresher(endpoints map[string]string, cipher *Cipher) (*OAuthRefresher, error) {
	if cipher == nil {
		return nil, fmt.Errorf("integration: cipher is required")
	}
	eps := make(map[string]string, len(endpoints))
	for provider, endpoint := range endpoints {
		provider = strings.TrimSpace(strings.ToLower(provider))
		endpoint = strings.TrimSpace(endpoint)
		if provider == "" || endpoint == "" {
			continue
		}
		eps[provider] = endpoint
	}
	return &OAuthRefresher{
		endpoints: eps,
		cipher:    cipher,
		client:    &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}, nil
}

type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (o *OAuthRefresher) Refresh(ctx context.Context, cred Credential) (RefreshResult, error) {
	endpoint, ok := o.endpoints[strings.ToLower(cred.Provider)]
	if !ok {
		return RefreshResult{}, fmt.Errorf("integration: no token endpoint for provider %s", cred.Provider)
	}
	refreshToken, err := o.cipher.Open(cred.EncryptedRefreshToken)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("open refresh token: %w", err)
	}
	secret, err := o.cipher.Open(cred.EncryptedSecret)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("open client secret: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if secret != "" {
		form.Set("client_secret", secret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return RefreshResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return RefreshResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RefreshResult{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body tokenEndpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RefreshResult{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return RefreshResult{}, fmt.Errorf("token endpoint returned no access token")
	}

	result := RefreshResult{
		AccessToken:    body.AccessToken,
		RefreshToken:   body.RefreshToken,
		TokenExpiresAt: o.now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	// Providers that do not rotate refresh tokens keep the old one.
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}
