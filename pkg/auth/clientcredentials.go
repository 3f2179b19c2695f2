package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// ClockSkewBuffer is the default margin before a token's reported expiry
// at which it is treated as already expired.
const ClockSkewBuffer = 5 * time.Minute

const aadTokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// ClientCredentialsProvider exchanges (tenant_id, client_id, client_secret)
// against the tenant's AAD v2 token endpoint using the OAuth2
// client-credentials grant, requesting scope "<base_url>/.default".
type ClientCredentialsProvider struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Skew         time.Duration

	mu     sync.Mutex
	cached map[string]Token
	group  singleflight.Group
}

// NewClientCredentialsProvider builds a provider for the given tenant/app
// registration. httpClient may be nil to use the oauth2 package default.
func NewClientCredentialsProvider(tenantID, clientID, clientSecret string, httpClient *http.Client) *ClientCredentialsProvider {
	return &ClientCredentialsProvider{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   httpClient,
		Skew:         ClockSkewBuffer,
		cached:       make(map[string]Token),
	}
}

func (p *ClientCredentialsProvider) Source() string { return "client_credentials:" + p.ClientID }

// Token returns a cached token for baseURL if still fresh, otherwise
// refreshes. Concurrent callers for the same baseURL coalesce on a single
// refresh via singleflight.
func (p *ClientCredentialsProvider) Token(ctx context.Context, baseURL string) (Token, error) {
	p.mu.Lock()
	tok, ok := p.cached[baseURL]
	p.mu.Unlock()
	if ok && !tok.Expired(time.Now(), p.skew()) {
		return tok, nil
	}

	v, err, _ := p.group.Do(baseURL, func() (any, error) {
		return p.refresh(ctx, baseURL)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token for baseURL, forcing the next Token
// call to refresh.
func (p *ClientCredentialsProvider) Invalidate(baseURL string) {
	p.mu.Lock()
	delete(p.cached, baseURL)
	p.mu.Unlock()
}

func (p *ClientCredentialsProvider) skew() time.Duration {
	if p.Skew <= 0 {
		return ClockSkewBuffer
	}
	return p.Skew
}

func (p *ClientCredentialsProvider) refresh(ctx context.Context, baseURL string) (Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		TokenURL:     fmt.Sprintf(aadTokenURLFormat, p.TenantID),
		Scopes:       []string{baseURL + "/.default"},
	}

	if p.HTTPClient != nil {
		ctx = contextWithHTTPClient(ctx, p.HTTPClient)
	}

	raw, err := cfg.Token(ctx)
	if err != nil {
		return Token{}, apperrors.Wrapf(err, apperrors.ErrorTypeAuth, "client credentials token exchange failed for tenant %s", p.TenantID)
	}

	tok := Token{AccessToken: raw.AccessToken, ExpiresAt: raw.Expiry}
	p.mu.Lock()
	p.cached[baseURL] = tok
	p.mu.Unlock()
	return tok, nil
}
