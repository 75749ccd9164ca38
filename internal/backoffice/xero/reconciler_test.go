package xero

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

func newReconcilerFixture(t *testing.T) (*fakeXero, *store.Store, *Reconciler) {
	t.Helper()
	f := newFakeXero(t)
	s, err := store.Open(filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	r := NewReconciler(f.client(t, "tenant-1"), s)
	r.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return f, s, r
}

func payment(id, email string) Payment {
	return Payment{
		ID:           id,
		Amount:       4999,
		Currency:     "aud",
		Description:  "Career coaching",
		Email:        email,
		CustomerName: "Alex Learner",
	}
}

func TestReconcileCreatesContactOnceForNewEmail(t *testing.T) {
	f, s, r := newReconcilerFixture(t)
	ctx := context.Background()

	rec, err := r.ReconcilePayment(ctx, payment("pi_1", "alex@example.org"))
	require.NoError(t, err)
	assert.Equal(t, store.ReconDone, rec.State)
	assert.Equal(t, "contact-1", rec.XeroContactID)
	assert.Equal(t, "invoice-1", rec.XeroInvoiceID)
	assert.Equal(t, "AUD", rec.Currency)

	// A second payment from the same email reuses the contact.
	rec, err = r.ReconcilePayment(ctx, payment("pi_2", "alex@example.org"))
	require.NoError(t, err)
	assert.Equal(t, "contact-1", rec.XeroContactID)
	assert.Equal(t, "invoice-2", rec.XeroInvoiceID)

	snap := f.snapshot()
	assert.Equal(t, 1, snap.contactCreates)
	assert.Equal(t, 2, snap.invoiceCreates)

	stored, err := s.GetReconciliation(ctx, "pi_2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, store.ReconDone, stored.State)
}

func TestRedeliveryCreatesOneInvoice(t *testing.T) {
	f, _, r := newReconcilerFixture(t)
	ctx := context.Background()
	p := payment("pi_dup", "dup@example.org")

	for i := 0; i < 3; i++ {
		rec, err := r.ReconcilePayment(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "invoice-1", rec.XeroInvoiceID)
	}
	assert.Equal(t, 1, f.snapshot().invoiceCreates)
}

func TestExistingXeroInvoiceIsReused(t *testing.T) {
	f, _, r := newReconcilerFixture(t)
	f.update(func(f *fakeXero) {
		f.invoices = []Invoice{{InvoiceID: "legacy-inv", Reference: "pi_legacy", Status: "AUTHORISED"}}
	})

	rec, err := r.ReconcilePayment(context.Background(), payment("pi_legacy", "legacy@example.org"))
	require.NoError(t, err)
	assert.Equal(t, "legacy-inv", rec.XeroInvoiceID)
	assert.Zero(t, f.snapshot().invoiceCreates)
}

func TestFailureIsPersistedAndResumable(t *testing.T) {
	f, s, r := newReconcilerFixture(t)
	f.update(func(f *fakeXero) { f.failCreateInv = 1 })
	ctx := context.Background()
	p := payment("pi_retry", "retry@example.org")

	_, err := r.ReconcilePayment(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, boerrors.ErrUpstream)

	stored, err := s.GetReconciliation(ctx, "pi_retry")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, store.ReconFailed, stored.State)
	assert.Equal(t, "contact-1", stored.XeroContactID)
	assert.NotEmpty(t, stored.LastError)
	assert.Equal(t, 1, stored.Attempts)

	rec, err := r.ReconcilePayment(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, store.ReconDone, rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Empty(t, rec.LastError)

	snap := f.snapshot()
	assert.Equal(t, 1, snap.contactCreates)
	assert.Equal(t, 1, snap.invoiceCreates)
}

func TestBrandingThemeIsBestEffort(t *testing.T) {
	f, _, r := newReconcilerFixture(t)
	f.update(func(f *fakeXero) { f.themesFail = true })

	rec, err := r.ReconcilePayment(context.Background(), payment("pi_theme", "theme@example.org"))
	require.NoError(t, err)
	assert.Equal(t, store.ReconDone, rec.State)

	f.update(func(f *fakeXero) {
		f.themesFail = false
		f.themes = []BrandingTheme{{BrandingThemeID: "theme-2", SortOrder: 2}, {BrandingThemeID: "theme-1", SortOrder: 1}}
	})
	_, err = r.ReconcilePayment(context.Background(), payment("pi_theme2", "theme@example.org"))
	require.NoError(t, err)

	f.update(func(f *fakeXero) {
		require.Len(t, f.invoices, 2)
		assert.Empty(t, f.invoices[0].BrandingThemeID)
		assert.Equal(t, "theme-1", f.invoices[1].BrandingThemeID)
	})
}

func TestMissingEmailFails(t *testing.T) {
	_, s, r := newReconcilerFixture(t)
	_, err := r.ReconcilePayment(context.Background(), payment("pi_noemail", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, boerrors.ErrInvalidInput)

	stored, err := s.GetReconciliation(context.Background(), "pi_noemail")
	require.NoError(t, err)
	assert.Equal(t, store.ReconFailed, stored.State)
}
