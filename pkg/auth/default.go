package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// CredentialChain is the injected abstraction over an ordered list of
// credential sources (environment variables, managed identity, developer
// sign-in). It is satisfied by Azure SDK's azidentity.DefaultAzureCredential
// in a host application; this module only depends on the narrow contract it
// needs so it has no hard Azure SDK dependency.
type CredentialChain interface {
	// GetToken returns a bearer token for scope (typically "<base_url>/.default").
	GetToken(ctx context.Context, scope string) (Token, error)
}

// DefaultCredentialProvider wraps a CredentialChain with the same caching
// and refresh-coalescing behavior as ClientCredentialsProvider, so both
// variants satisfy Provider identically from the Session's point of view.
type DefaultCredentialProvider struct {
	Chain CredentialChain
	Skew  time.Duration

	mu     sync.Mutex
	cached map[string]Token
	group  singleflight.Group
}

// NewDefaultCredentialProvider wraps chain for use as a Provider.
func NewDefaultCredentialProvider(chain CredentialChain) *DefaultCredentialProvider {
	return &DefaultCredentialProvider{
		Chain:  chain,
		Skew:   ClockSkewBuffer,
		cached: make(map[string]Token),
	}
}

func (p *DefaultCredentialProvider) Source() string { return "default_credentials" }

func (p *DefaultCredentialProvider) Token(ctx context.Context, baseURL string) (Token, error) {
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
// call to consult the chain again.
func (p *DefaultCredentialProvider) Invalidate(baseURL string) {
	p.mu.Lock()
	delete(p.cached, baseURL)
	p.mu.Unlock()
}

func (p *DefaultCredentialProvider) skew() time.Duration {
	if p.Skew <= 0 {
		return ClockSkewBuffer
	}
	return p.Skew
}

func (p *DefaultCredentialProvider) refresh(ctx context.Context, baseURL string) (Token, error) {
	if p.Chain == nil {
		return Token{}, apperrors.New(apperrors.ErrorTypeAuth, "no default credential chain configured")
	}
	tok, err := p.Chain.GetToken(ctx, baseURL+"/.default")
	if err != nil {
		return Token{}, apperrors.Wrap(err, apperrors.ErrorTypeAuth, "default credential chain failed to acquire token")
	}
	p.mu.Lock()
	p.cached[baseURL] = tok
	p.mu.Unlock()
	return tok, nil
}
