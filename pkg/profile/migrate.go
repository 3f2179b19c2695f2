package profile

import "gopkg.in/yaml.v3"

// profileDoc mirrors a profile's on-disk shape, including the legacy field
// names `label_cache`/`label_expiry` so files written by older tooling keep
// loading.
type profileDoc struct {
	Description             string            `yaml:"description,omitempty"`
	BaseURL                 string            `yaml:"base_url"`
	VerifySSL               bool              `yaml:"verify_ssl"`
	TimeoutSeconds          int               `yaml:"timeout_seconds"`
	CredentialSource        *CredentialSource `yaml:"credential_source,omitempty"`
	UseLabelCache           *bool             `yaml:"use_label_cache,omitempty"`
	LabelCacheExpiryMinutes *int              `yaml:"label_cache_expiry_minutes,omitempty"`
	UseCacheFirst           bool              `yaml:"use_cache_first"`
	CacheDir                string            `yaml:"cache_dir,omitempty"`
	Language                string            `yaml:"language,omitempty"`

	// Legacy field names, migrated on load.
	LegacyLabelCache  *bool `yaml:"label_cache,omitempty"`
	LegacyLabelExpiry *int  `yaml:"label_expiry,omitempty"`
}

// UnmarshalYAML migrates `label_cache`→`use_label_cache` and
// `label_expiry`→`label_cache_expiry_minutes` on load, preferring the
// current field name when a document somehow sets both, then applies
// defaults the same way a freshly-constructed Profile would.
func (p *Profile) UnmarshalYAML(value *yaml.Node) error {
	var doc profileDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}

	useLabelCache := doc.UseLabelCache
	if useLabelCache == nil {
		useLabelCache = doc.LegacyLabelCache
	}
	expiry := doc.LabelCacheExpiryMinutes
	if expiry == nil {
		expiry = doc.LegacyLabelExpiry
	}

	*p = Profile{
		Description:      doc.Description,
		BaseURL:          doc.BaseURL,
		VerifySSL:        doc.VerifySSL,
		TimeoutSeconds:   doc.TimeoutSeconds,
		CredentialSource: doc.CredentialSource,
		UseCacheFirst:    doc.UseCacheFirst,
		CacheDir:         doc.CacheDir,
		Language:         doc.Language,
	}
	if useLabelCache != nil {
		p.UseLabelCache = *useLabelCache
	}
	if expiry != nil {
		p.LabelCacheExpiryMinutes = *expiry
	}
	p.applyDefaults()
	return nil
}

// MarshalYAML writes the current field names only — a round-tripped file
// never re-emits the legacy keys.
func (p Profile) MarshalYAML() (any, error) {
	return profileDoc{
		Description:             p.Description,
		BaseURL:                 p.BaseURL,
		VerifySSL:               p.VerifySSL,
		TimeoutSeconds:          p.TimeoutSeconds,
		CredentialSource:        p.CredentialSource,
		UseLabelCache:           &p.UseLabelCache,
		LabelCacheExpiryMinutes: &p.LabelCacheExpiryMinutes,
		UseCacheFirst:           p.UseCacheFirst,
		CacheDir:                p.CacheDir,
		Language:                p.Language,
	}, nil
}
