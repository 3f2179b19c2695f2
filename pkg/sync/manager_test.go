package sync

import (
	"context"
	stdsync "sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

func TestSync(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sync Suite")
}

// fakeEntities is a gated EntitySource: GetAllDataEntities blocks on gate
// (if non-nil) so tests can control exactly when a phase completes.
type fakeEntities struct {
	mu stdsync.Mutex

	dataEntities   []metadata.DataEntity
	publicEntities []metadata.PublicEntity
	enums          []metadata.Enumeration

	gate <-chan struct{}

	dataCalls   int
	schemaCalls int
	enumCalls   int
}

func (f *fakeEntities) GetAllDataEntities(ctx context.Context) ([]metadata.DataEntity, error) {
	f.mu.Lock()
	f.dataCalls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.dataEntities, nil
}

func (f *fakeEntities) GetAllPublicEntitiesWithDetails(ctx context.Context) ([]metadata.PublicEntity, error) {
	f.mu.Lock()
	f.schemaCalls++
	f.mu.Unlock()
	return f.publicEntities, nil
}

func (f *fakeEntities) GetAllPublicEnumerationsWithDetails(ctx context.Context) ([]metadata.Enumeration, error) {
	f.mu.Lock()
	f.enumCalls++
	f.mu.Unlock()
	return f.enums, nil
}

func (f *fakeEntities) calls() (data, schema, enum int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataCalls, f.schemaCalls, f.enumCalls
}

// fakeStore implements Store entirely in memory.
type fakeStore struct {
	mu stdsync.Mutex

	entities  map[string][]metadata.DataEntity
	schemas   map[string][]metadata.PublicEntity
	enums     map[string][]metadata.Enumeration
	completed map[string]bool
	counts    map[string]MetadataCounts
	copied    []copyCall
	indexed   map[string]int
}

type copyCall struct{ source, target string }

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities:  make(map[string][]metadata.DataEntity),
		schemas:   make(map[string][]metadata.PublicEntity),
		enums:     make(map[string][]metadata.Enumeration),
		completed: make(map[string]bool),
		counts:    make(map[string]MetadataCounts),
		indexed:   make(map[string]int),
	}
}

func (f *fakeStore) StoreDataEntities(ctx context.Context, gv string, entities []metadata.DataEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[gv] = entities
	return nil
}

func (f *fakeStore) StorePublicEntitySchema(ctx context.Context, gv string, entity *metadata.PublicEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[gv] = append(f.schemas[gv], *entity)
	return nil
}

func (f *fakeStore) StoreEnumerations(ctx context.Context, gv string, enums []metadata.Enumeration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enums[gv] = enums
	return nil
}

func (f *fakeStore) MarkSyncCompleted(ctx context.Context, gv string, counts MetadataCounts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[gv] = true
	f.counts[gv] = counts
	return nil
}

func (f *fakeStore) HasCompleteMetadata(ctx context.Context, gv string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[gv], nil
}

func (f *fakeStore) IndexGlobalVersion(ctx context.Context, gv string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[gv]++
	return nil
}

func (f *fakeStore) CopyMetadataFrom(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied = append(f.copied, copyCall{source, target})
	f.entities[target] = f.entities[source]
	return nil
}

func (f *fakeStore) GetMetadataCounts(ctx context.Context, gv string) (MetadataCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[gv], nil
}

// fakeVersionFinder implements VersionFinder over a fixed candidate list.
type fakeVersionFinder struct {
	versions []version.GlobalVersion
}

func (f *fakeVersionFinder) FindCompatibleVersions(ctx context.Context, modules []version.ModuleVersion, exactMatch bool) ([]version.GlobalVersion, error) {
	return f.versions, nil
}

// fakeLabelSource implements LabelSource with a canned result.
type fakeLabelSource struct {
	result map[string]string
}

func (f *fakeLabelSource) GetLabelsBatch(ctx context.Context, ids []string, language string) (map[string]string, error) {
	return f.result, nil
}

var _ = Describe("Manager full sync", func() {
	It("drains entities, schemas, enumerations, and labels to Completed", func() {
		entitiesSrc := &fakeEntities{
			dataEntities: []metadata.DataEntity{
				{Name: "CustomersV3", LabelID: "@SYS1"},
				{Name: "VendorsV2", LabelID: "@SYS2"},
			},
			publicEntities: []metadata.PublicEntity{
				{
					Name:    "CustomersV3",
					LabelID: "@SYS1",
					Actions: []metadata.Action{{Name: "Confirm"}},
					Properties: []metadata.Property{
						{Name: "CustomerAccount", LabelID: "@SYS3"},
					},
				},
			},
			enums: []metadata.Enumeration{
				{Name: "NoYes", LabelID: "@SYS4", Members: []metadata.EnumerationMember{{Name: "Yes", Value: 1}}},
			},
		}
		store := newFakeStore()
		labelSrc := &fakeLabelSource{result: map[string]string{
			"@SYS1": "Customers", "@SYS2": "Vendors", "@SYS3": "Customer account", "@SYS4": "No/Yes",
		}}

		mgr := NewManager(store, entitiesSrc, labelSrc, nil, nil)

		sessionID, err := mgr.StartSyncSession(context.Background(), "gv-1", StrategyFull, "test-user")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(sessionID)
			return s.Status
		}).Should(Equal(StatusCompleted))

		session, ok := mgr.GetSyncSession(sessionID)
		Expect(ok).To(BeTrue())
		Expect(session.Result).NotTo(BeNil())
		Expect(session.Result.Success).To(BeTrue())
		Expect(session.Result.EntityCount).To(Equal(2))
		Expect(session.Result.ActionCount).To(Equal(1))
		Expect(session.Result.EnumerationCount).To(Equal(1))
		Expect(session.Result.LabelCount).To(Equal(4))
		Expect(session.ProgressPercent).To(Equal(100.0))

		completed, err := store.HasCompleteMetadata(context.Background(), "gv-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(completed).To(BeTrue())
		Expect(store.indexed["gv-1"]).To(Equal(1))
	})

	It("refuses a second session for the same global version while one is running", func() {
		gate := make(chan struct{})
		entitiesSrc := &fakeEntities{gate: gate}
		store := newFakeStore()
		mgr := NewManager(store, entitiesSrc, nil, nil, nil)

		id1, err := mgr.StartSyncSession(context.Background(), "gv-running", StrategyFull, "u")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(id1)
			return s.Status
		}).Should(Equal(StatusRunning))

		_, err = mgr.StartSyncSession(context.Background(), "gv-running", StrategyFull, "u2")
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeSyncAlreadyRunning)).To(BeTrue())

		close(gate)
		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(id1)
			return s.Status
		}).Should(Equal(StatusCompleted))
	})
})

var _ = Describe("Manager cancellation", func() {
	It("cancels a running session at the next phase boundary", func() {
		gate := make(chan struct{})
		entitiesSrc := &fakeEntities{gate: gate}
		store := newFakeStore()
		mgr := NewManager(store, entitiesSrc, nil, nil, nil, WithDefaultLanguage("en-US"))

		id, err := mgr.StartSyncSession(context.Background(), "gv-cancel", StrategyFull, "u")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(id)
			return s.Status
		}).Should(Equal(StatusRunning))

		cancelled := mgr.CancelSyncSession(id)
		Expect(cancelled).To(BeTrue())
		close(gate)

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(id)
			return s.Status
		}).Should(Equal(StatusCancelled))

		Expect(mgr.CancelSyncSession(id)).To(BeFalse(), "a terminal session cannot be cancelled again")
	})

	It("reports false for an unknown session id", func() {
		mgr := NewManager(newFakeStore(), &fakeEntities{}, nil, nil, nil)
		Expect(mgr.CancelSyncSession("does-not-exist")).To(BeFalse())
	})
})

var _ = Describe("SharingMode sync", func() {
	It("copies rows via INSERT...SELECT with no network fetches in the Schemas phase", func() {
		store := newFakeStore()
		store.completed["v1"] = true
		store.counts["v1"] = MetadataCounts{EntityCount: 3, ActionCount: 1, EnumerationCount: 1, LabelCount: 2}
		store.entities["v1"] = []metadata.DataEntity{{Name: "A"}, {Name: "B"}, {Name: "C"}}

		modules := []version.ModuleVersion{{ModuleID: "ApplicationSuite", Version: "10.0"}}
		finder := &fakeVersionFinder{versions: []version.GlobalVersion{
			{ID: "v1", Modules: modules},
			{ID: "v2", Modules: modules},
		}}

		entitiesSrc := &fakeEntities{}
		mgr := NewManager(store, entitiesSrc, nil, nil, finder)

		sessionID, err := mgr.StartSyncSession(context.Background(), "v2", StrategySharingMode, "u", WithModules(modules))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(sessionID)
			return s.Status
		}).Should(Equal(StatusCompleted))

		session, _ := mgr.GetSyncSession(sessionID)
		Expect(session.Result.EntityCount).To(Equal(3))
		Expect(store.copied).To(ConsistOf(copyCall{source: "v1", target: "v2"}))

		dataCalls, schemaCalls, enumCalls := entitiesSrc.calls()
		Expect(dataCalls).To(Equal(0))
		Expect(schemaCalls).To(Equal(0))
		Expect(enumCalls).To(Equal(0))
	})

	It("fails the session when no compatible complete version exists", func() {
		store := newFakeStore()
		finder := &fakeVersionFinder{versions: nil}
		mgr := NewManager(store, &fakeEntities{}, nil, nil, finder)

		modules := []version.ModuleVersion{{ModuleID: "ApplicationSuite", Version: "10.0"}}
		sessionID, err := mgr.StartSyncSession(context.Background(), "v2", StrategySharingMode, "u", WithModules(modules))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(sessionID)
			return s.Status
		}).Should(Equal(StatusFailed))
	})
})

var _ = Describe("Manager.RecommendStrategy", func() {
	var (
		store  *fakeStore
		finder *fakeVersionFinder
		mgr    *Manager
	)

	BeforeEach(func() {
		store = newFakeStore()
		finder = &fakeVersionFinder{}
		mgr = NewManager(store, &fakeEntities{}, nil, nil, finder)
	})

	It("recommends Incremental when the target already has complete metadata", func() {
		store.completed["v1"] = true
		strategy, err := mgr.RecommendStrategy(context.Background(), "v1", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(strategy).To(Equal(StrategyIncremental))
	})

	It("recommends SharingMode when a compatible version is already complete", func() {
		modules := []version.ModuleVersion{{ModuleID: "A", Version: "1.0"}}
		store.completed["v1"] = true
		finder.versions = []version.GlobalVersion{{ID: "v1", Modules: modules}}

		strategy, err := mgr.RecommendStrategy(context.Background(), "v2", modules)
		Expect(err).NotTo(HaveOccurred())
		Expect(strategy).To(Equal(StrategySharingMode))
	})

	It("recommends Full otherwise", func() {
		strategy, err := mgr.RecommendStrategy(context.Background(), "v-new", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(strategy).To(Equal(StrategyFull))
	})
})

var _ = Describe("Manager session bookkeeping", func() {
	It("lists active sessions and archives terminal ones into history", func() {
		store := newFakeStore()
		mgr := NewManager(store, &fakeEntities{}, nil, nil, nil, WithHistoryLimit(5))

		id, err := mgr.StartSyncSession(context.Background(), "gv-history", StrategyEntitiesOnly, "u")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() Status {
			s, _ := mgr.GetSyncSession(id)
			return s.Status
		}).Should(Equal(StatusCompleted))

		Eventually(func() []SyncSessionSummary {
			return mgr.GetActiveSessions()
		}).Should(BeEmpty())

		history := mgr.GetSessionHistory(10)
		Expect(history).To(HaveLen(1))
		Expect(history[0].SessionID).To(Equal(id))
	})
})
