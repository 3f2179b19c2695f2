package metadatacache

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

func TestMetadataCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MetadataCache Suite")
}

// openTestStore opens a real embedded sqlite file under a per-test tmpdir.
// modernc.org/sqlite is pure Go, so exercising the real migrations and
// FTS5 virtual tables end to end is cheap and far more trustworthy than
// mocking the driver.
func openTestStore() *Store {
	dir := GinkgoT().TempDir()
	store, err := Open(filepath.Join(dir, "cache.sqlite"))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = store.Close() })
	return store
}

var _ = Describe("Store global versions", func() {
	var ctx context.Context

	BeforeEach(func() { ctx = context.Background() })

	It("inserts a new global version on first upsert and reuses it on the second", func() {
		store := openTestStore()
		modules := []version.ModuleVersion{{ModuleID: "ApplicationSuite", Name: "Application Suite", Version: "10.0.1"}}

		gv1, isNew1, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", modules)
		Expect(err).NotTo(HaveOccurred())
		Expect(isNew1).To(BeTrue())
		Expect(gv1.ReferenceCount).To(Equal(1))
		Expect(gv1.Modules).To(HaveLen(1))

		gv2, isNew2, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", modules)
		Expect(err).NotTo(HaveOccurred())
		Expect(isNew2).To(BeFalse())
		Expect(gv2.ID).To(Equal(gv1.ID))
		Expect(gv2.ReferenceCount).To(Equal(2))
	})

	It("decrements the old version's reference count when an environment re-links", func() {
		store := openTestStore()
		gvA, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())
		gvB, _, err := store.UpsertGlobalVersion(ctx, "hash-b", "10.0.40", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.LinkEnvironment(ctx, "env1", gvA.ID)).To(Succeed())
		Expect(store.LinkEnvironment(ctx, "env1", gvB.ID)).To(Succeed())

		all, err := store.ListGlobalVersions(ctx)
		Expect(err).NotTo(HaveOccurred())
		byID := map[string]version.GlobalVersion{}
		for _, gv := range all {
			byID[gv.ID] = gv
		}
		Expect(byID[gvA.ID].ReferenceCount).To(Equal(0))
		Expect(byID[gvB.ID].ReferenceCount).To(Equal(1))
	})

	It("updates sync status for a linked environment", func() {
		store := openTestStore()
		gv, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.LinkEnvironment(ctx, "env1", gv.ID)).To(Succeed())

		duration := int64(4200)
		Expect(store.UpdateSyncStatus(ctx, "env1", gv.ID, version.LinkStatusCompleted, &duration)).To(Succeed())
	})
})

var _ = Describe("Store data entity and public entity schema", func() {
	var (
		ctx context.Context
		gvID string
		store *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = openTestStore()
		gv, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())
		gvID = gv.ID
	})

	It("stores and retrieves data entities with filtering", func() {
		enabled := true
		entities := []metadata.DataEntity{
			{Name: "CustomersV3", PublicEntityName: "CustomersV3", EntityCategory: metadata.EntityCategoryMaster, DataServiceEnabled: true},
			{Name: "VendorsV2", PublicEntityName: "VendorsV2", EntityCategory: metadata.EntityCategoryMaster, DataServiceEnabled: false},
		}
		Expect(store.StoreDataEntities(ctx, gvID, entities)).To(Succeed())

		rows, err := store.GetDataEntities(ctx, gvID, metadata.DataEntityFilter{DataServiceEnabled: &enabled})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].Name).To(Equal("CustomersV3"))
	})

	It("stores and retrieves a full public entity schema, then satisfies SchemaProvider", func() {
		entity := &metadata.PublicEntity{
			Name: "CustomersV3", EntitySetName: "CustomersV3", IsReadOnly: false,
			Properties: []metadata.Property{
				{Name: "dataAreaId", TypeName: "Edm.String", DataType: metadata.XppString, IsKey: true, PropertyOrder: 0},
				{Name: "CustomerAccount", TypeName: "Edm.String", DataType: metadata.XppString, IsKey: true, PropertyOrder: 1},
				{Name: "CustomerName", TypeName: "Edm.String", DataType: metadata.XppString},
			},
			NavigationProperties: []metadata.NavigationProperty{
				{Name: "CustomerGroup", RelatedEntity: "CustomerGroups", Cardinality: metadata.CardinalitySingle,
					Constraints: []metadata.NavigationConstraint{{Kind: metadata.ConstraintReferential, Property: "CustomerGroupId", ReferencedProperty: "CustomerGroupId"}}},
			},
			PropertyGroups: []metadata.PropertyGroup{{Name: "Identification", Properties: []string{"CustomerAccount"}}},
			Actions: []metadata.Action{
				{Name: "validateAddress", BindingKind: metadata.BindingBoundToEntityInstance, Parameters: []metadata.ActionParameter{{Name: "strict", Type: metadata.ActionParameterType{TypeName: "Edm.Boolean"}}}},
			},
		}
		Expect(store.StorePublicEntitySchema(ctx, gvID, entity)).To(Succeed())

		fetched, found, err := store.GetPublicEntitySchema(ctx, "CustomersV3", gvID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(fetched.Properties).To(HaveLen(3))
		Expect(fetched.KeyProperties()).To(HaveLen(2))
		Expect(fetched.NavigationProperties).To(HaveLen(1))
		Expect(fetched.NavigationProperties[0].Constraints).To(HaveLen(1))
		Expect(fetched.PropertyGroups).To(HaveLen(1))
		Expect(fetched.Actions).To(HaveLen(1))
		Expect(fetched.Actions[0].Parameters).To(HaveLen(1))

		bySet, found := store.Schema(ctx, "CustomersV3")
		Expect(found).To(BeTrue())
		Expect(bySet.Name).To(Equal("CustomersV3"))
	})

	It("reports not found for an entity schema that was never stored", func() {
		_, found, err := store.GetPublicEntitySchema(ctx, "NoSuchEntity", gvID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())

		_, found = store.Schema(ctx, "NoSuchEntitySet")
		Expect(found).To(BeFalse())
	})

	It("wipes and rewrites properties/navigation/actions on a second store call", func() {
		entity := &metadata.PublicEntity{Name: "VendorsV2", EntitySetName: "VendorsV2",
			Properties: []metadata.Property{{Name: "VendorAccount", IsKey: true}}}
		Expect(store.StorePublicEntitySchema(ctx, gvID, entity)).To(Succeed())

		entity.Properties = []metadata.Property{
			{Name: "VendorAccount", IsKey: true},
			{Name: "VendorName"},
		}
		Expect(store.StorePublicEntitySchema(ctx, gvID, entity)).To(Succeed())

		fetched, _, err := store.GetPublicEntitySchema(ctx, "VendorsV2", gvID)
		Expect(err).NotTo(HaveOccurred())
		Expect(fetched.Properties).To(HaveLen(2))
	})
})

var _ = Describe("Store enumerations", func() {
	It("stores and retrieves members in member order", func() {
		ctx := context.Background()
		store := openTestStore()
		gv, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())

		enum := metadata.Enumeration{Name: "NoYes", Members: []metadata.EnumerationMember{
			{Name: "Yes", Value: 1, MemberOrder: 1},
			{Name: "No", Value: 0, MemberOrder: 0},
		}}
		Expect(store.StoreEnumerations(ctx, gv.ID, []metadata.Enumeration{enum})).To(Succeed())

		fetched, found, err := store.GetEnumerationInfo(ctx, "NoYes", gv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(fetched.Members).To(HaveLen(2))
		Expect(fetched.Members[0].Name).To(Equal("No"))
		Expect(fetched.Members[1].Name).To(Equal("Yes"))
	})
})

var _ = Describe("Store label cache", func() {
	It("round trips a batch write and reports a miss for an uncached label", func() {
		ctx := context.Background()
		store := openTestStore()

		Expect(store.SetBatch(ctx, "en-US", map[string]string{"@SYS1": "Customer"})).To(Succeed())

		text, found, err := store.Get(ctx, "@SYS1", "en-US")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(text).To(Equal("Customer"))

		_, found, err = store.Get(ctx, "@SYS999", "en-US")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	It("overwrites a previously cached value for the same label and language", func() {
		ctx := context.Background()
		store := openTestStore()

		Expect(store.SetBatch(ctx, "en-US", map[string]string{"@SYS1": "Customer"})).To(Succeed())
		Expect(store.SetBatch(ctx, "en-US", map[string]string{"@SYS1": "Customer (updated)"})).To(Succeed())

		text, found, err := store.Get(ctx, "@SYS1", "en-US")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(text).To(Equal("Customer (updated)"))
	})
})

var _ = Describe("Store sync completeness", func() {
	It("reports incomplete before MarkSyncCompleted and complete after", func() {
		ctx := context.Background()
		store := openTestStore()
		gv, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())

		complete, err := store.HasCompleteMetadata(ctx, gv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(complete).To(BeFalse())

		Expect(store.MarkSyncCompleted(ctx, gv.ID, MetadataCounts{EntityCount: 12, ActionCount: 3})).To(Succeed())

		complete, err = store.HasCompleteMetadata(ctx, gv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(complete).To(BeTrue())
	})

	It("reports incomplete when sync completed but zero entities were cached", func() {
		ctx := context.Background()
		store := openTestStore()
		gv, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.MarkSyncCompleted(ctx, gv.ID, MetadataCounts{EntityCount: 0})).To(Succeed())

		complete, err := store.HasCompleteMetadata(ctx, gv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(complete).To(BeFalse())
	})
})

var _ = Describe("Store search", func() {
	It("finds a public entity by name and by label text", func() {
		ctx := context.Background()
		store := openTestStore()
		gv, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())

		entity := &metadata.PublicEntity{
			Name: "CustomersV3", EntitySetName: "CustomersV3", LabelText: "Customers",
			Properties: []metadata.Property{{Name: "CustomerAccount", LabelText: "Customer account"}},
		}
		Expect(store.StorePublicEntitySchema(ctx, gv.ID, entity)).To(Succeed())
		Expect(store.IndexGlobalVersion(ctx, gv.ID)).To(Succeed())

		results, err := store.SearchMetadata(ctx, "Customers", "public_entity", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())
		Expect(results[0].Name).To(Equal("CustomersV3"))
	})

	It("rejects an unknown entity type", func() {
		ctx := context.Background()
		store := openTestStore()
		_, err := store.SearchMetadata(ctx, "Customers", "not_a_real_type", 10)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Store CopyMetadataFrom", func() {
	It("copies a public entity schema to a new global version without re-fetching", func() {
		ctx := context.Background()
		store := openTestStore()
		gvSource, _, err := store.UpsertGlobalVersion(ctx, "hash-a", "10.0.39", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())
		gvTarget, _, err := store.UpsertGlobalVersion(ctx, "hash-b", "10.0.40", "7.0.7000", nil)
		Expect(err).NotTo(HaveOccurred())

		entity := &metadata.PublicEntity{Name: "CustomersV3", EntitySetName: "CustomersV3",
			Properties: []metadata.Property{{Name: "CustomerAccount", IsKey: true}}}
		Expect(store.StorePublicEntitySchema(ctx, gvSource.ID, entity)).To(Succeed())

		Expect(store.CopyMetadataFrom(ctx, gvSource.ID, gvTarget.ID)).To(Succeed())

		copied, found, err := store.GetPublicEntitySchema(ctx, "CustomersV3", gvTarget.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(copied.Properties).To(HaveLen(1))
	})
})
