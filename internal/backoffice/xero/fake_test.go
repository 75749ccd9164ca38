package xero

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeXero is an in-memory stand-in for the Xero identity and accounting APIs.
type fakeXero struct {
	t   *testing.T
	srv *httptest.Server

	mu              sync.Mutex
	contacts        []Contact
	invoices        []Invoice
	themes          []BrandingTheme
	themesFail      bool
	failCreateInv   int
	tokenRequests   int
	contactCreates  int
	invoiceCreates  int
	lastContactsQry string
	tenantHeaders   []string
}

func newFakeXero(t *testing.T) *fakeXero {
	f := &fakeXero{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.token)
	mux.HandleFunc("GET /connections", f.connections)
	mux.HandleFunc("GET /api.xro/2.0/Contacts", f.authed(f.listContacts))
	mux.HandleFunc("PUT /api.xro/2.0/Contacts", f.authed(f.createContacts))
	mux.HandleFunc("GET /api.xro/2.0/Invoices", f.authed(f.listInvoices))
	mux.HandleFunc("PUT /api.xro/2.0/Invoices", f.authed(f.createInvoices))
	mux.HandleFunc("GET /api.xro/2.0/BrandingThemes", f.authed(f.brandingThemes))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeXero) client(t *testing.T, tenantID string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     tenantID,
		APIURL:       f.srv.URL,
		TokenURL:     f.srv.URL + "/token",
		HTTPClient:   f.srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func (f *fakeXero) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokenRequests++
	f.mu.Unlock()
	user, pass, ok := r.BasicAuth()
	if !ok || user != "client-id" || pass != "client-secret" {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	_ = r.ParseForm()
	if r.Form.Get("grant_type") != "client_credentials" {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":1800}`))
}

func (f *fakeXero) connections(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeFakeJSON(w, []map[string]string{
		{"tenantId": "tenant-from-connections", "tenantName": "Virtual Career Coach"},
		{"tenantId": "second-tenant", "tenantName": "Other Org"},
	})
}

func (f *fakeXero) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.tenantHeaders = append(f.tenantHeaders, r.Header.Get("Xero-tenant-id"))
		f.mu.Unlock()
		next(w, r)
	}
}

func (f *fakeXero) listContacts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	where := r.URL.Query().Get("where")
	f.lastContactsQry = r.URL.RawQuery
	var out []Contact
	for _, c := range f.contacts {
		if where == fmt.Sprintf(`EmailAddress==%q AND ContactStatus=="ACTIVE"`, c.EmailAddress) {
			out = append(out, c)
		}
	}
	writeFakeJSON(w, contactsEnvelope{Contacts: out})
}

func (f *fakeXero) createContacts(w http.ResponseWriter, r *http.Request) {
	var body contactsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range body.Contacts {
		f.contactCreates++
		body.Contacts[i].ContactID = fmt.Sprintf("contact-%d", f.contactCreates)
		f.contacts = append(f.contacts, body.Contacts[i])
	}
	writeFakeJSON(w, body)
}

func (f *fakeXero) listInvoices(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	where := r.URL.Query().Get("where")
	var out []Invoice
	for _, inv := range f.invoices {
		if strings.HasSuffix(where, fmt.Sprintf(`Reference==%q`, inv.Reference)) {
			out = append(out, inv)
		}
	}
	writeFakeJSON(w, invoicesEnvelope{Invoices: out})
}

func (f *fakeXero) createInvoices(w http.ResponseWriter, r *http.Request) {
	var body invoicesEnvelope
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateInv > 0 {
		f.failCreateInv--
		http.Error(w, `{"Message":"A validation exception occurred"}`, http.StatusBadRequest)
		return
	}
	for i := range body.Invoices {
		f.invoiceCreates++
		body.Invoices[i].InvoiceID = fmt.Sprintf("invoice-%d", f.invoiceCreates)
		f.invoices = append(f.invoices, body.Invoices[i])
	}
	writeFakeJSON(w, body)
}

func (f *fakeXero) brandingThemes(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.themesFail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeFakeJSON(w, brandingThemesEnvelope{BrandingThemes: f.themes})
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fakeCounts struct {
	tokens, contactCreates, invoiceCreates int
	tenantHeaders                          []string
	lastContactsQuery                      string
}

func (f *fakeXero) snapshot() fakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeCounts{
		tokens:            f.tokenRequests,
		contactCreates:    f.contactCreates,
		invoiceCreates:    f.invoiceCreates,
		tenantHeaders:     append([]string(nil), f.tenantHeaders...),
		lastContactsQuery: f.lastContactsQry,
	}
}

func (f *fakeXero) update(fn func(f *fakeXero)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
