// Package profile defines the Profile connection settings shape and a
// default YAML-file-backed Store implementation, including migration of
// the legacy field names `label_cache`/`label_expiry` used by older
// profile files.
package profile

import (
	"github.com/go-playground/validator/v10"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// Defaults applied to a profile that leaves the corresponding field unset.
const (
	DefaultTimeoutSeconds          = 30
	DefaultLabelCacheExpiryMinutes = 60
	DefaultLanguage                = "en-US"
)

var structValidator = validator.New()

// CredentialSource names an explicit Azure AD app registration used for the
// client-credentials grant. A nil CredentialSource on a Profile means "use
// ambient/default credentials".
type CredentialSource struct {
	TenantID     string `yaml:"tenant_id" json:"tenantId" validate:"required"`
	ClientID     string `yaml:"client_id" json:"clientId" validate:"required"`
	ClientSecret string `yaml:"client_secret" json:"clientSecret" validate:"required"`
}

// Profile is one named connection configuration: the base URL, TLS and
// timeout settings, optional explicit credentials, and label-cache/sync
// tuning. The Client Facade builds its Auth Provider, HTTP Session, and
// Metadata Cache directly from a Profile.
type Profile struct {
	Name                    string            `yaml:"-" json:"name"`
	Description             string            `yaml:"description,omitempty" json:"description,omitempty"`
	BaseURL                 string            `yaml:"base_url" json:"baseUrl" validate:"required,url"`
	VerifySSL               bool              `yaml:"verify_ssl" json:"verifySsl"`
	TimeoutSeconds          int               `yaml:"timeout_seconds" json:"timeoutSeconds" validate:"gt=0"`
	CredentialSource        *CredentialSource `yaml:"credential_source,omitempty" json:"credentialSource,omitempty"`
	UseLabelCache           bool              `yaml:"use_label_cache" json:"useLabelCache"`
	LabelCacheExpiryMinutes int               `yaml:"label_cache_expiry_minutes" json:"labelCacheExpiryMinutes" validate:"gte=0"`
	UseCacheFirst           bool              `yaml:"use_cache_first" json:"useCacheFirst"`
	CacheDir                string            `yaml:"cache_dir,omitempty" json:"cacheDir,omitempty"`
	Language                string            `yaml:"language,omitempty" json:"language,omitempty"`
}

// applyDefaults fills zero-valued optional fields in place rather than
// treating "unset" as a validation failure.
func (p *Profile) applyDefaults() {
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if p.LabelCacheExpiryMinutes == 0 {
		p.LabelCacheExpiryMinutes = DefaultLabelCacheExpiryMinutes
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
}

// Validate checks struct tags (required fields, URL shape, positive
// durations) and returns an internal/errors.AppError of type
// ErrorTypeValidation on failure.
func (p *Profile) Validate() error {
	if err := structValidator.Struct(p); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "profile validation failed").
			WithDetailsf("profile %q", p.Name)
	}
	return nil
}
