package version

import (
	"context"
	"fmt"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/crud"
	"github.com/d365fo/d365fo-client-go/pkg/odata"
)

// FallbackPolicy governs what Detect does when the module inventory query
// fails but the three version actions succeeded (degraded mode).
type FallbackPolicy int

const (
	// AlwaysSync treats a failed inventory fetch as "module set unknown" —
	// Modules comes back nil and callers should proceed as though a sync
	// is required, since there is nothing to hash or compare against a
	// cached global_version. This is the default: it never silently skips
	// work a caller might need.
	AlwaysSync FallbackPolicy = iota
	// FailClosed returns an error instead of a degraded DetectedVersion.
	FailClosed
)

const (
	actionApplicationVersion      = "GetApplicationVersion"
	actionPlatformBuildVersion    = "GetPlatformBuildVersion"
	actionApplicationBuildVersion = "GetApplicationBuildVersion"
)

// VersionDetector reads the environment's installed application, platform,
// and module versions via unbound OData actions plus a module-inventory
// entity set whose name varies by release and is therefore configurable.
type VersionDetector struct {
	crud                     *crud.Client
	moduleInventoryEntitySet string
	fallback                 FallbackPolicy
}

// NewVersionDetector builds a detector. moduleInventoryEntitySet names the
// entity set exposing installed modules for this release (there is no
// stable name across D365 F&O releases).
func NewVersionDetector(c *crud.Client, moduleInventoryEntitySet string, fallback FallbackPolicy) *VersionDetector {
	return &VersionDetector{crud: c, moduleInventoryEntitySet: moduleInventoryEntitySet, fallback: fallback}
}

// Detect probes the three version actions and the module inventory. If the
// actions fail, that is always a hard error — there is no meaningful
// degraded mode without at least the version strings. If only the module
// inventory query fails, behavior follows d.fallback.
func (d *VersionDetector) Detect(ctx context.Context) (DetectedVersion, error) {
	appVersion, err := d.callVersionAction(ctx, actionApplicationVersion)
	if err != nil {
		return DetectedVersion{}, err
	}
	platformVersion, err := d.callVersionAction(ctx, actionPlatformBuildVersion)
	if err != nil {
		return DetectedVersion{}, err
	}
	appBuildVersion, err := d.callVersionAction(ctx, actionApplicationBuildVersion)
	if err != nil {
		return DetectedVersion{}, err
	}

	modules, err := d.fetchModules(ctx)
	if err != nil {
		if d.fallback == FailClosed {
			return DetectedVersion{}, err
		}
		return DetectedVersion{
			ApplicationVersion:      appVersion,
			PlatformVersion:         platformVersion,
			ApplicationBuildVersion: appBuildVersion,
			Modules:                nil,
			Degraded:                true,
		}, nil
	}

	return DetectedVersion{
		ApplicationVersion:      appVersion,
		PlatformVersion:         platformVersion,
		ApplicationBuildVersion: appBuildVersion,
		Modules:                 modules,
	}, nil
}

// SameAsActive reports whether detected's application and platform version
// strings match active's cached fields. ApplicationBuildVersion has no
// counterpart on GlobalVersion and is deliberately excluded from this
// comparison.
func SameAsActive(detected DetectedVersion, active *GlobalVersion) bool {
	if active == nil {
		return false
	}
	return detected.ApplicationVersion == active.ApplicationVersion &&
		detected.PlatformVersion == active.PlatformVersion
}

func (d *VersionDetector) callVersionAction(ctx context.Context, action string) (string, error) {
	result, err := d.crud.CallAction(ctx, action, nil, "", odata.Key{})
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case string:
		return v, nil
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			return s, nil
		}
		if s, ok := v["Value"].(string); ok {
			return s, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrorTypeAction, "unexpected %s response shape", action)
}

func (d *VersionDetector) fetchModules(ctx context.Context) ([]ModuleVersion, error) {
	collection, err := d.crud.GetEntities(ctx, d.moduleInventoryEntitySet, nil)
	if err != nil {
		return nil, err
	}

	modules := make([]ModuleVersion, 0, len(collection.Value))
	for _, row := range collection.Value {
		modules = append(modules, ModuleVersion{
			ModuleID:    stringField(row, "ModuleId", "Module"),
			Name:        stringField(row, "Name", "ModuleName"),
			Version:     stringField(row, "Version", "ModuleVersion"),
			Publisher:   stringField(row, "Publisher"),
			DisplayName: stringField(row, "DisplayName", "Label"),
		})
	}
	return modules, nil
}

func stringField(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
