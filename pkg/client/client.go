// Package client wires a Profile into a fully operational D365 F&O client:
// an authenticated HTTP Session, the CRUD and Metadata API clients, label
// resolution, a local metadata cache, and a background sync session
// manager. This is the module's composition root.
package client

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	stdsync "sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/auth"
	"github.com/d365fo/d365fo-client-go/pkg/crud"
	"github.com/d365fo/d365fo-client-go/pkg/labels"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/metadatacache"
	"github.com/d365fo/d365fo-client-go/pkg/profile"
	"github.com/d365fo/d365fo-client-go/pkg/sync"
	"github.com/d365fo/d365fo-client-go/pkg/transport"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

// DefaultModuleInventoryEntitySet is used when no Option overrides it.
// pkg/version.VersionDetector's own doc comment is explicit that there is
// no stable name across D365 F&O releases — this is a sensible default for
// current releases, not a guarantee.
const DefaultModuleInventoryEntitySet = "SystemModuleInventories"

// Client is a fully wired, per-profile D365 F&O client.
type Client struct {
	profile       profile.Profile
	environmentID string

	session  *transport.Session
	auth     auth.Provider
	metadata *metadata.Client
	crud     *crud.Client
	labels   *labels.Client
	cache    *metadatacache.Store
	versions *version.GlobalVersionManager
	detector *version.VersionDetector
	syncMgr  *sync.Manager

	log      logr.Logger
	metrics  *metricsCollector
	registry *prometheus.Registry

	closeOnce stdsync.Once
}

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	log                      logr.Logger
	httpClient               *http.Client
	credentialChain          auth.CredentialChain
	moduleInventoryEntitySet string
	versionFallback          version.FallbackPolicy
	registry                 *prometheus.Registry
	cachePath                string
	authProvider             auth.Provider
}

// WithLogger attaches a structured logger, wired through to every
// sub-component that accepts one. Defaults to a zap production logger
// bridged through go-logr/zapr.
func WithLogger(log logr.Logger) Option { return func(o *options) { o.log = log } }

// WithHTTPClient overrides the pooled *http.Client the Session uses (tests
// typically point one at an httptest.Server).
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithCredentialChain supplies the ambient default-credential chain
// consulted when the Profile has no explicit CredentialSource. Without one,
// a Profile that also has no CredentialSource will fail the first token
// request, not construction — see pkg/auth.DefaultCredentialProvider.
func WithCredentialChain(chain auth.CredentialChain) Option {
	return func(o *options) { o.credentialChain = chain }
}

// WithAuthProvider overrides the Auth Provider entirely, bypassing both
// Profile.CredentialSource and WithCredentialChain. Tests use this to
// supply a fixed-token fake rather than hitting a real AAD token endpoint.
func WithAuthProvider(p auth.Provider) Option {
	return func(o *options) { o.authProvider = p }
}

// WithModuleInventoryEntitySet overrides DefaultModuleInventoryEntitySet.
func WithModuleInventoryEntitySet(name string) Option {
	return func(o *options) {
		if name != "" {
			o.moduleInventoryEntitySet = name
		}
	}
}

// WithVersionFallback overrides the VersionDetector's degraded-mode policy.
func WithVersionFallback(p version.FallbackPolicy) Option {
	return func(o *options) { o.versionFallback = p }
}

// WithMetricsRegistry registers the facade's counters/gauges on reg instead
// of a private registry, so a host application can expose them alongside
// its own metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithCachePath overrides the metadata cache's database file location,
// bypassing both Profile.CacheDir and the default per-user cache directory.
func WithCachePath(path string) Option { return func(o *options) { o.cachePath = path } }

// New wires a full Client from p.
func New(p profile.Profile, opts ...Option) (*Client, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		log:                      defaultLogger(),
		moduleInventoryEntitySet: DefaultModuleInventoryEntitySet,
		versionFallback:          version.AlwaysSync,
		registry:                 prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}

	provider := o.authProvider
	if provider == nil {
		provider = buildAuthProvider(p, o.credentialChain)
	}

	session := transport.NewSession(transport.Config{
		BaseURL:        p.BaseURL,
		VerifySSL:      p.VerifySSL,
		TimeoutSeconds: p.TimeoutSeconds,
	}, provider, o.httpClient)

	cachePath, err := resolveCachePath(p, o.cachePath)
	if err != nil {
		return nil, err
	}
	cache, err := metadatacache.Open(cachePath)
	if err != nil {
		return nil, apperrors.NewCacheUnavailableError(err)
	}

	metadataClient := metadata.NewClient(session, p.BaseURL)
	crudClient := crud.NewClient(session, p.BaseURL, cache)

	var labelOpts []labels.Option
	if p.UseLabelCache {
		labelOpts = append(labelOpts, labels.WithCache(cache))
	}
	labelsClient := labels.NewClient(session, p.BaseURL, labelOpts...)

	versionManager := version.NewGlobalVersionManager(cache)
	detector := version.NewVersionDetector(crudClient, o.moduleInventoryEntitySet, o.versionFallback)

	syncMgr := sync.NewManager(&syncStoreAdapter{cache: cache}, metadataClient, labelsClient, detector, versionManager,
		sync.WithLogger(o.log),
		sync.WithDefaultLanguage(p.Language),
	)

	return &Client{
		profile:       p,
		environmentID: p.BaseURL,
		session:       session,
		auth:          provider,
		metadata:      metadataClient,
		crud:          crudClient,
		labels:        labelsClient,
		cache:         cache,
		versions:      versionManager,
		detector:      detector,
		syncMgr:       syncMgr,
		log:           o.log,
		metrics:       newMetricsCollector(o.registry),
		registry:      o.registry,
	}, nil
}

// NewFromProfileStore resolves name (or the store's configured default, if
// name is empty) through store and wires a Client from it.
func NewFromProfileStore(store profile.Store, name string, opts ...Option) (*Client, error) {
	if name == "" {
		defaultName, ok, err := store.DefaultName()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.New(apperrors.ErrorTypeValidation, "no profile name given and no default profile is configured")
		}
		name = defaultName
	}

	p, ok, err := store.Get(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewNotFoundError("profile " + name)
	}
	return New(p, opts...)
}

// NewFromEnv wires a Client from an ad-hoc Profile built from the
// environment (see pkg/profile.FromEnv), for callers that don't maintain a
// profile store.
func NewFromEnv(opts ...Option) (*Client, error) {
	p, err := profile.FromEnv()
	if err != nil {
		return nil, err
	}
	return New(p, opts...)
}

func resolveCachePath(p profile.Profile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if p.CacheDir != "" {
		return filepath.Join(p.CacheDir, "metadata.db"), nil
	}
	return metadatacache.DefaultCachePath(p.BaseURL)
}

func buildAuthProvider(p profile.Profile, chain auth.CredentialChain) auth.Provider {
	if p.CredentialSource != nil {
		return auth.NewClientCredentialsProvider(
			p.CredentialSource.TenantID,
			p.CredentialSource.ClientID,
			p.CredentialSource.ClientSecret,
			nil,
		)
	}
	return auth.NewDefaultCredentialProvider(chain)
}

func defaultLogger() logr.Logger {
	zapLog, err := zap.NewProduction()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zapLog)
}

// TestConnection probes the OData root (`/data`) as a cheap
// connectivity/auth check.
func (c *Client) TestConnection(ctx context.Context) error {
	url := strings.TrimRight(c.profile.BaseURL, "/") + "/data"
	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err == nil && resp.StatusCode >= 400 {
		err = apperrors.Newf(apperrors.ErrorTypeNetwork, "connection probe failed with status %d", resp.StatusCode).
			WithStatus(resp.StatusCode, string(resp.Body))
	}
	c.metrics.observe("test_connection", err)
	return err
}

// TestMetadataConnection probes `/data/$metadata`, the raw OData XML
// metadata document.
func (c *Client) TestMetadataConnection(ctx context.Context) error {
	url := strings.TrimRight(c.profile.BaseURL, "/") + "/data/$metadata"
	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err == nil && resp.StatusCode >= 400 {
		err = apperrors.Newf(apperrors.ErrorTypeMetadataFetch, "metadata connection probe failed with status %d", resp.StatusCode).
			WithStatus(resp.StatusCode, string(resp.Body))
	}
	c.metrics.observe("test_metadata_connection", err)
	return err
}

// InitializeMetadata detects the environment's installed version,
// registers it with the Global Version Manager, and — unless the resulting
// global version's cache is already complete — recommends a strategy and
// starts a sync session for it. sessionID is empty when no sync was
// needed.
func (c *Client) InitializeMetadata(ctx context.Context, initiatedBy string) (globalVersionID string, sessionID string, err error) {
	detected, err := c.detector.Detect(ctx)
	if err != nil {
		c.metrics.observe("initialize_metadata", err)
		return "", "", err
	}

	globalVersionID, _, err = c.versions.RegisterVersion(ctx, c.environmentID, detected.ApplicationVersion, detected.PlatformVersion, detected.Modules)
	if err != nil {
		c.metrics.observe("initialize_metadata", err)
		return "", "", err
	}

	complete, err := c.cache.HasCompleteMetadata(ctx, globalVersionID)
	if err != nil {
		c.metrics.observe("initialize_metadata", err)
		return globalVersionID, "", err
	}
	if complete {
		if counts, countsErr := c.cache.GetMetadataCounts(ctx, globalVersionID); countsErr == nil {
			c.metrics.setCachedEntityCount(counts.EntityCount)
		}
		return globalVersionID, "", nil
	}

	strategy, err := c.syncMgr.RecommendStrategy(ctx, globalVersionID, detected.Modules)
	if err != nil {
		c.metrics.observe("initialize_metadata", err)
		return globalVersionID, "", err
	}

	sessionID, err = c.syncMgr.StartSyncSession(ctx, globalVersionID, strategy, initiatedBy,
		sync.WithModules(detected.Modules),
		sync.WithLanguage(c.profile.Language),
	)
	if err != nil {
		c.metrics.observe("initialize_metadata", err)
		return globalVersionID, "", err
	}
	c.metrics.syncStarted(string(strategy))
	return globalVersionID, sessionID, nil
}

// SearchMetadata delegates to the Metadata Cache's FTS index.
func (c *Client) SearchMetadata(ctx context.Context, query, entityType string, limit int) ([]metadatacache.SearchResult, error) {
	results, err := c.cache.SearchMetadata(ctx, query, entityType, limit)
	c.metrics.observe("search_metadata", err)
	return results, err
}

// Close releases the Session's pooled connections and the metadata cache's
// database handle. Safe to call more than once.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.session.Close()
		closeErr = c.cache.Close()
	})
	return closeErr
}
