package odata

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/d365fo/d365fo-client-go/pkg/metadata"
)

func TestOData(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "OData Suite")
}

func journalLineSchema() *metadata.PublicEntity {
	return &metadata.PublicEntity{
		Name: "JournalLines",
		Properties: []metadata.Property{
			{Name: "LineNum", DataType: metadata.XppInt32, IsKey: true, PropertyOrder: 1},
			{Name: "JournalId", DataType: metadata.XppString, IsKey: true, PropertyOrder: 2},
		},
	}
}

var _ = Describe("URL Builder", func() {
	Describe("cross-company auto-injection", func() {
		It("adds cross-company=true when dataAreaId is in a composite key, no schema", func() {
			key := CompositeKey(
				KeyField{Name: "dataAreaId", Value: "usmf"},
				KeyField{Name: "CustomerAccount", Value: "MAFZAAL001"},
			)
			url, err := BuildEntityURL("https://x.example.com", "CustomersV3", key, nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://x.example.com/data/CustomersV3(dataAreaId='usmf',CustomerAccount='MAFZAAL001')?cross-company=true"))
		})

		It("does not add cross-company when dataAreaId is absent", func() {
			key := CompositeKey(
				KeyField{Name: "CustomerAccount", Value: "CUST001"},
				KeyField{Name: "InvoiceId", Value: "INV001"},
			)
			url, err := BuildEntityURL("https://example.com", "SalesInvoiceLines", key, nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).NotTo(ContainSubstring("cross-company"))
		})

		It("detects dataAreaId case-insensitively", func() {
			for _, name := range []string{"dataAreaId", "DataAreaId", "DATAAREAID", "dataareaid"} {
				key := CompositeKey(KeyField{Name: name, Value: "USMF"})
				url, err := BuildEntityURL("https://example.com", "CustomersV3", key, nil, false)
				Expect(err).NotTo(HaveOccurred())
				Expect(url).To(ContainSubstring("cross-company=true"), "failed for field name %q", name)
			}
		})

		It("forces cross-company=true exactly once even without dataAreaId", func() {
			key := CompositeKey(KeyField{Name: "CustomerAccount", Value: "CUST001"})
			url, err := BuildEntityURL("https://example.com", "CustomersV3", key, nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(url, "cross-company=true")).To(Equal(1))
		})

		It("does not consider add_cross_company when no key is given", func() {
			url, err := BuildEntityURL("https://example.com", "CustomersV3", Key{}, nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://example.com/data/CustomersV3"))
		})

		It("adds cross-company for instance-bound actions when dataAreaId is in key", func() {
			key := CompositeKey(
				KeyField{Name: "dataAreaId", Value: "USMF"},
				KeyField{Name: "CustomerAccount", Value: "CUST001"},
			)
			url, err := BuildActionURL("https://example.com", "TestAction", "CustomersV3", key, nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://example.com/data/CustomersV3(dataAreaId='USMF',CustomerAccount='CUST001')/Microsoft.Dynamics.DataEntities.TestAction?cross-company=true"))
		})

		It("builds unbound and entity-set-bound action URLs with no cross-company", func() {
			url, err := BuildActionURL("https://example.com", "TestAction", "", Key{}, nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://example.com/data/Microsoft.Dynamics.DataEntities.TestAction"))

			url, err = BuildActionURL("https://example.com", "TestAction", "CustomersV3", Key{}, nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://example.com/data/CustomersV3/Microsoft.Dynamics.DataEntities.TestAction"))
		})
	})

	Describe("scalar keys", func() {
		It("quotes the value and doubles embedded single-quotes", func() {
			url, err := BuildEntityURL("https://example.com", "CustomersV3", ScalarKey("CUST001"), nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://example.com/data/CustomersV3('CUST001')"))
		})

		It("doubles an embedded single quote", func() {
			url, err := BuildEntityURL("https://example.com", "CustomersV3", ScalarKey("O'Brien"), nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://example.com/data/CustomersV3('O''Brien')"))
		})

		It("never triggers cross-company on its own", func() {
			url, err := BuildEntityURL("https://example.com", "CustomersV3", ScalarKey("CUST001"), nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).NotTo(ContainSubstring("cross-company"))
		})
	})

	Describe("schema-aware composite keys", func() {
		It("reorders fields and serializes by XPP type per schema", func() {
			key := CompositeKey(
				KeyField{Name: "JournalId", Value: "JRN-1"},
				KeyField{Name: "LineNum", Value: "7"},
			)
			url, err := BuildEntityURL("https://example.com", "JournalLines", key, journalLineSchema(), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(ContainSubstring("(LineNum=7,JournalId='JRN-1')"))
		})

		It("appends schema-unlisted fields after the ordered schema fields", func() {
			key := CompositeKey(
				KeyField{Name: "JournalId", Value: "JRN-1"},
				KeyField{Name: "LineNum", Value: "7"},
				KeyField{Name: "Extra", Value: "x"},
			)
			frag, err := FormatCompositeKey(key.Fields(), journalLineSchema())
			Expect(err).NotTo(HaveOccurred())
			Expect(frag).To(Equal("LineNum=7,JournalId='JRN-1',Extra='x'"))
		})

		It("rejects an empty key field value", func() {
			key := CompositeKey(KeyField{Name: "JournalId", Value: ""})
			_, err := FormatCompositeKey(key.Fields(), journalLineSchema())
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Query String Builder", func() {
	It("filter containing dataareaid triggers cross-company, case-insensitively", func() {
		opts := &QueryOptions{Filter: "dataAreaId eq 'USMF' and CustomerGroupId eq 'DOM'"}
		qs := BuildQueryString(opts)
		Expect(qs).To(ContainSubstring("%24filter=dataAreaId+eq+%27USMF%27+and+CustomerGroupId+eq+%27DOM%27"))
		Expect(qs).To(ContainSubstring("cross-company=true"))
		Expect(strings.Count(qs, "cross-company=true")).To(Equal(1))
	})

	It("does not duplicate cross-company when combined with a dataAreaId key", func() {
		opts := &QueryOptions{Filter: "dataareaid eq 'usmf'"}
		params := BuildQueryParams(opts)
		count := 0
		for _, p := range params {
			if p.Key == "cross-company" {
				count++
			}
		}
		Expect(count).To(Equal(1))
	})

	It("omits zero-value fields", func() {
		qs := BuildQueryString(&QueryOptions{})
		Expect(qs).To(Equal(""))
		Expect(BuildQueryString(nil)).To(Equal(""))
	})

	It("renders select/expand/orderby as comma-joined lists and top/skip/count/search", func() {
		opts := &QueryOptions{
			Select:  []string{"CustomerAccount", "CustomerGroupId"},
			Expand:  []string{"SalesOrderLines"},
			OrderBy: []string{"CustomerAccount desc"},
			Top:     IntPtr(10),
			Skip:    IntPtr(5),
			Count:   true,
			Search:  "contoso",
		}
		params := BuildQueryParams(opts)
		byKey := map[string]string{}
		for _, p := range params {
			byKey[p.Key] = p.Value
		}
		Expect(byKey["$select"]).To(Equal("CustomerAccount,CustomerGroupId"))
		Expect(byKey["$expand"]).To(Equal("SalesOrderLines"))
		Expect(byKey["$orderby"]).To(Equal("CustomerAccount desc"))
		Expect(byKey["$top"]).To(Equal("10"))
		Expect(byKey["$skip"]).To(Equal("5"))
		Expect(byKey["$count"]).To(Equal("true"))
		Expect(byKey["$search"]).To(Equal("contoso"))
	})

	It("produces the same ordered parameters for equivalently-constructed options", func() {
		build := func() *QueryOptions {
			return &QueryOptions{
				Select: []string{"CustomerAccount"},
				Filter: "CustomerGroupId eq 'DOM'",
				Top:    IntPtr(25),
			}
		}
		Expect(BuildQueryParams(build())).To(Equal(BuildQueryParams(build())))
	})
})

var _ = Describe("MergeQueryStrings", func() {
	It("joins two non-empty query strings with a single '?' and one '&'", func() {
		merged := MergeQueryStrings("?$select=Id", "$top=10")
		Expect(merged).To(Equal("?$select=Id&$top=10"))
		Expect(merged).NotTo(ContainSubstring("??"))
	})

	It("returns the non-empty side untouched when the other is empty", func() {
		Expect(MergeQueryStrings("", "$top=10")).To(Equal("?$top=10"))
		Expect(MergeQueryStrings("?$top=10", "")).To(Equal("?$top=10"))
	})

	It("returns empty when both sides are empty", func() {
		Expect(MergeQueryStrings("", "")).To(Equal(""))
	})
})

var _ = Describe("SerializeValue", func() {
	It("quotes strings and doubles embedded quotes", func() {
		lit, err := SerializeValue("O'Brien", metadata.XppString, "Edm.String")
		Expect(err).NotTo(HaveOccurred())
		Expect(lit).To(Equal("'O''Brien'"))
	})

	It("passes through valid integers unquoted", func() {
		lit, err := SerializeValue("42", metadata.XppInt32, "Edm.Int32")
		Expect(err).NotTo(HaveOccurred())
		Expect(lit).To(Equal("42"))
	})

	It("rejects a non-numeric Int32 value", func() {
		_, err := SerializeValue("abc", metadata.XppInt32, "Edm.Int32")
		Expect(err).To(HaveOccurred())
	})

	It("formats Real values via decimal", func() {
		lit, err := SerializeValue("3.140", metadata.XppReal, "Edm.Double")
		Expect(err).NotTo(HaveOccurred())
		Expect(lit).To(Equal("3.14"))
	})

	It("renders enum members namespaced by Microsoft.Dynamics.DataEntities", func() {
		lit, err := SerializeValue("NoYes'Yes'", metadata.XppEnum, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(lit).To(Equal("Microsoft.Dynamics.DataEntities.NoYes'Yes'"))
	})

	It("accepts the colon form for enum values", func() {
		lit, err := SerializeValue("NoYes:Yes", metadata.XppEnum, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(lit).To(Equal("Microsoft.Dynamics.DataEntities.NoYes'Yes'"))
	})

	It("rejects Container/Record/Void as key literals", func() {
		for _, t := range []metadata.XppType{metadata.XppContainer, metadata.XppRecord, metadata.XppVoid} {
			_, err := SerializeValue("x", t, "")
			Expect(err).To(HaveOccurred())
		}
	})
})
