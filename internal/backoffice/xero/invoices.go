package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const (
	salesAccountCode   = "200"
	gstTaxType         = "OUTPUT2"
	invoiceCurrency    = "AUD"
	invoiceDueDays     = 30
	defaultDescription = "Services"
	xeroDateLayout     = "2006-01-02"
)

var gstRate = decimal.RequireFromString("0.1")

// FindInvoiceByReference returns a live sales invoice carrying reference, or
// nil when none exists. Voided and deleted invoices are ignored.
func (c *Client) FindInvoiceByReference(ctx context.Context, reference string) (*Invoice, error) {
	clause, err := whereEquals("Reference", strings.TrimSpace(reference))
	if err != nil {
		return nil, boerrors.Validation("xero.find_invoice", err.Error())
	}
	q := url.Values{}
	q.Set("where", `Type=="ACCREC" AND `+clause)

	var resp invoicesEnvelope
	if err := c.accounting(ctx, "xero.find_invoice", http.MethodGet, "Invoices", q, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Invoices {
		switch resp.Invoices[i].Status {
		case "VOIDED", "DELETED":
			continue
		}
		return &resp.Invoices[i], nil
	}
	return nil, nil
}

// CreateInvoice creates an invoice and returns it with its Xero ID.
func (c *Client) CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	var resp invoicesEnvelope
	body := invoicesEnvelope{Invoices: []Invoice{inv}}
	if err := c.accounting(ctx, "xero.create_invoice", http.MethodPut, "Invoices", nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Invoices) == 0 || resp.Invoices[0].InvoiceID == "" {
		return nil, boerrors.Upstream("xero.create_invoice", provider, fmt.Errorf("response contained no invoice"))
	}
	return &resp.Invoices[0], nil
}

// DefaultBrandingTheme returns the theme with sort order 1, or nil.
func (c *Client) DefaultBrandingTheme(ctx context.Context) (*BrandingTheme, error) {
	var resp brandingThemesEnvelope
	if err := c.accounting(ctx, "xero.branding_themes", http.MethodGet, "BrandingThemes", nil, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.BrandingThemes {
		if resp.BrandingThemes[i].SortOrder == 1 {
			return &resp.BrandingThemes[i], nil
		}
	}
	return nil, nil
}

// NewPaymentInvoice builds the authorised sales invoice for a Stripe payment.
// GST is a flat 10% on top of the charged amount.
func NewPaymentInvoice(contactID string, p Payment, now time.Time) Invoice {
	unit := decimal.New(p.Amount, -2)
	tax := unit.Mul(gstRate)
	line := unit.Add(tax)

	description := strings.TrimSpace(p.Description)
	if description == "" {
		description = defaultDescription
	}

	today := now.UTC()
	return Invoice{
		Type:    "ACCREC",
		Contact: ContactRef{ContactID: contactID},
		LineItems: []LineItem{{
			Description: description,
			Quantity:    json.Number("1"),
			UnitAmount:  json.Number(unit.StringFixed(2)),
			AccountCode: salesAccountCode,
			TaxType:     gstTaxType,
			TaxAmount:   json.Number(tax.StringFixed(2)),
			LineAmount:  json.Number(line.StringFixed(2)),
		}},
		Date:            today.Format(xeroDateLayout),
		DueDate:         today.AddDate(0, 0, invoiceDueDays).Format(xeroDateLayout),
		Reference:       p.ID,
		Status:          "AUTHORISED",
		LineAmountTypes: "Inclusive",
		CurrencyCode:    invoiceCurrency,
	}
}
