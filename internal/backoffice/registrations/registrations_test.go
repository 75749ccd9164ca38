package registrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/backoffice/email"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

type outbox struct {
	mu   sync.Mutex
	msgs []email.Message
}

func (o *outbox) Send(_ context.Context, m email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func newHandlers(t *testing.T) (*Handlers, *store.Store, *outbox) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	box := &outbox{}
	h := NewHandlers(s, email.NewMailer(box, "reports@vcc.org.au"), Config{
		ReportURL: "https://vcc.org.au/files/employment-report.pdf",
		ClientURL: "https://vcc.org.au/",
	})
	return h, s, box
}

func post(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/report-registrations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, req)
	return rec
}

const validBody = `{"email":"Jo@Example.org","company":"Acme","state":"nsw","firstName":"Jo","lastName":"Citizen","marketingOptIn":true}`

func TestCreateRegistration(t *testing.T) {
	h, s, box := newHandlers(t)

	rec := post(h, validBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"message":"Registration successful. Check your email for the report."}`, rec.Body.String())

	total, regs, err := s.ListReportRegistrations(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "jo@example.org", regs[0].Email)
	assert.Equal(t, "New South Wales", regs[0].State)
	assert.True(t, regs[0].MarketingOptIn)

	require.Len(t, box.msgs, 1)
	assert.Equal(t, "Your VCC Employment Report", box.msgs[0].Subject)
	assert.Equal(t, "jo@example.org", box.msgs[0].To)
	assert.Contains(t, box.msgs[0].HTML, "https://vcc.org.au/files/employment-report.pdf")
	assert.Contains(t, box.msgs[0].Text, "https://vcc.org.au/unsubscribe?email=jo%40example.org")
}

func TestCreateRegistrationDuplicate(t *testing.T) {
	h, _, box := newHandlers(t)
	require.Equal(t, http.StatusCreated, post(h, validBody).Code)

	rec := post(h, strings.Replace(validBody, "Jo@Example.org", "jo@example.org", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"This email has already been registered for the report."}`, rec.Body.String())
	assert.Len(t, box.msgs, 1)
}

func TestCreateRegistrationValidation(t *testing.T) {
	h, _, _ := newHandlers(t)
	for name, body := range map[string]string{
		"missing fields": `{"email":"a@b.org"}`,
		"bad email":      `{"email":"not-an-email","company":"A","state":"VIC","firstName":"A","lastName":"B"}`,
		"bad state":      `{"email":"a@b.org","company":"A","state":"California","firstName":"A","lastName":"B"}`,
		"bad json":       `{`,
	} {
		rec := post(h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Contains(t, rec.Body.String(), `"success":false`, name)
	}
}

func TestNormalizeState(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"New South Wales", "New South Wales", true},
		{"new  south wales ", "New South Wales", true},
		{"NSW", "New South Wales", true},
		{"act", "Australian Capital Territory", true},
		{"Western Australia", "Western Australia", true},
		{"California", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeState(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCreateRegistrationWithFullStateName(t *testing.T) {
	h, s, _ := newHandlers(t)
	body := `{"email":"hr@employer.com.au","company":"Employer","state":"New South Wales","firstName":"Hana","lastName":"Rees"}`

	rec := post(h, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	total, regs, err := s.ListReportRegistrations(context.Background(), "New South Wales", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, regs, 1)
	assert.Equal(t, "hr@employer.com.au", regs[0].Email)
}

func TestListRegistrationsPaginates(t *testing.T) {
	h, s, _ := newHandlers(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		state := "Victoria"
		if i%3 == 0 {
			state = "Queensland"
		}
		require.NoError(t, s.CreateReportRegistration(ctx, &store.ReportRegistration{
			Email: fmt.Sprintf("user%02d@example.org", i), Company: "Co", State: state,
			FirstName: "F", LastName: "L", CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	get := func(query string) listResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/report-registrations"+query, nil)
		rec := httptest.NewRecorder()
		h.HandleList(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp listResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	first := get("")
	assert.True(t, first.Success)
	assert.Len(t, first.Data, 10)
	assert.Equal(t, pagination{Total: 12, Pages: 2, CurrentPage: 1}, first.Pagination)
	assert.Equal(t, "user11@example.org", first.Data[0].Email)

	second := get("?page=2")
	assert.Len(t, second.Data, 2)
	assert.Equal(t, "user00@example.org", second.Data[1].Email)

	qld := get("?state=qld&limit=2")
	assert.Equal(t, pagination{Total: 4, Pages: 2, CurrentPage: 1}, qld.Pagination)
	for _, r := range qld.Data {
		assert.Equal(t, "Queensland", r.State)
	}
	assert.Equal(t, 4, get("?state=Queensland").Pagination.Total)

	req := httptest.NewRequest(http.MethodGet, "/api/report-registrations?page=0", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
