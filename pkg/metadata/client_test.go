package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/d365fo/d365fo-client-go/pkg/auth"
	"github.com/d365fo/d365fo-client-go/pkg/transport"
)

func TestMetadata(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metadata Client Suite")
}

type staticProvider struct{}

func (staticProvider) Token(ctx context.Context, baseURL string) (auth.Token, error) {
	return auth.Token{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}, nil
}
func (staticProvider) Source() string    { return "static" }
func (staticProvider) Invalidate(string) {}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	session := transport.NewSession(transport.Config{BaseURL: server.URL}, staticProvider{}, server.Client())
	return NewClient(session, server.URL), server
}

var _ = Describe("Client", func() {
	Describe("GetDataEntities", func() {
		It("pushes EntityCategory/name-substring filters down as $filter", func() {
			var gotQuery string
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"value":[{"name":"CustomersV3","entityCategory":"Master"}]}`))
			})
			defer server.Close()

			isReadOnly := false
			entities, err := client.GetDataEntities(context.Background(), DataEntityFilter{
				EntityCategory: EntityCategoryMaster,
				IsReadOnly:     &isReadOnly,
				NameContains:   "Customer",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(entities).To(HaveLen(1))
			Expect(entities[0].Name).To(Equal("CustomersV3"))
			Expect(gotQuery).To(ContainSubstring("EntityCategory"))
			Expect(gotQuery).To(ContainSubstring("contains"))
		})

		It("surfaces a MetadataFetchFailed error on a non-2xx response", func() {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`server error`))
			})
			defer server.Close()

			_, err := client.GetDataEntities(context.Background(), DataEntityFilter{}, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetAllDataEntities", func() {
		It("drains $skip/$top pages until a short page is returned", func() {
			var skips []string
			callCount := 0
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				callCount++
				skips = append(skips, r.URL.Query().Get("$skip"))
				w.Header().Set("Content-Type", "application/json")
				if r.URL.Query().Get("$skip") == "0" {
					body := `{"value":[`
					parts := make([]string, pageSize)
					for i := range parts {
						parts[i] = `{"name":"E"}`
					}
					body += strings.Join(parts, ",") + `]}`
					_, _ = w.Write([]byte(body))
					return
				}
				_, _ = w.Write([]byte(`{"value":[{"name":"Last"}]}`))
			})
			defer server.Close()

			all, err := client.GetAllDataEntities(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(pageSize + 1))
			Expect(callCount).To(Equal(2))
			Expect(skips).To(Equal([]string{"0", "1000"}))
		})
	})

	Describe("GetPublicEntityInfo", func() {
		It("expands properties/navigation/actions and returns the typed shape", func() {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(ContainSubstring("PublicEntities('CustomersV3')"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{
					"name": "CustomersV3",
					"entitySetName": "CustomersV3",
					"properties": [
						{"name": "dataAreaId", "dataType": "String", "isKey": true, "propertyOrder": 1},
						{"name": "CustomerAccount", "dataType": "String", "isKey": true, "propertyOrder": 2}
					]
				}`))
			})
			defer server.Close()

			entity, err := client.GetPublicEntityInfo(context.Background(), "CustomersV3")
			Expect(err).NotTo(HaveOccurred())
			Expect(entity).NotTo(BeNil())
			Expect(entity.Name).To(Equal("CustomersV3"))
			Expect(entity.KeyProperties()).To(HaveLen(2))
		})

		It("returns (nil, nil) on 404 instead of an error", func() {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			})
			defer server.Close()

			entity, err := client.GetPublicEntityInfo(context.Background(), "DoesNotExist")
			Expect(err).NotTo(HaveOccurred())
			Expect(entity).To(BeNil())
		})
	})

	Describe("GetPublicEnumerationInfo", func() {
		It("fetches an enumeration with members expanded", func() {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"name":"NoYes","members":[{"name":"No","value":0},{"name":"Yes","value":1}]}`))
			})
			defer server.Close()

			enum, err := client.GetPublicEnumerationInfo(context.Background(), "NoYes")
			Expect(err).NotTo(HaveOccurred())
			Expect(enum.Members).To(HaveLen(2))
		})
	})
})

var _ = Describe("DataEntityFilter.toODataFilter", func() {
	It("joins clauses with 'and'", func() {
		enabled := true
		f := DataEntityFilter{DataServiceEnabled: &enabled, NameContains: "Sales"}
		Expect(f.toODataFilter()).To(Equal("DataServiceEnabled eq true and contains(tolower(Name), 'sales')"))
	})

	It("returns empty string when no fields are set", func() {
		Expect(DataEntityFilter{}.toODataFilter()).To(Equal(""))
	})
})
