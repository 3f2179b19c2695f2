package profile

import (
	"os"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// Environment variables consulted by FromEnv.
const (
	EnvBaseURL      = "D365FO_BASE_URL"
	EnvClientID     = "D365FO_CLIENT_ID"
	EnvClientSecret = "D365FO_CLIENT_SECRET"
	EnvTenantID     = "D365FO_TENANT_ID"
)

// FromEnv builds an ad-hoc, unnamed Profile from the environment, used by
// the Client Facade when no profile store entry applies. A complete
// client-id/secret/tenant-id triple becomes an explicit CredentialSource;
// with any of the three missing, CredentialSource is left nil so the
// facade falls back to the ambient default-credential chain.
func FromEnv() (Profile, error) {
	baseURL := os.Getenv(EnvBaseURL)
	if baseURL == "" {
		return Profile{}, apperrors.New(apperrors.ErrorTypeValidation, EnvBaseURL+" is not set")
	}

	p := Profile{
		BaseURL:       baseURL,
		VerifySSL:     true,
		UseLabelCache: true,
		UseCacheFirst: true,
	}
	p.applyDefaults()

	clientID := os.Getenv(EnvClientID)
	clientSecret := os.Getenv(EnvClientSecret)
	tenantID := os.Getenv(EnvTenantID)
	if clientID != "" && clientSecret != "" && tenantID != "" {
		p.CredentialSource = &CredentialSource{TenantID: tenantID, ClientID: clientID, ClientSecret: clientSecret}
	}

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
