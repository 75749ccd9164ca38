package xero

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

// FindContactByEmail returns the first active contact with exactly this
// email, ordered by name, or nil when none exists.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	clause, err := whereEquals("EmailAddress", strings.TrimSpace(email))
	if err != nil {
		return nil, boerrors.Validation("xero.find_contact", err.Error())
	}
	q := url.Values{}
	q.Set("where", clause+` AND ContactStatus=="ACTIVE"`)
	q.Set("order", "Name ASC")

	var resp contactsEnvelope
	if err := c.accounting(ctx, "xero.find_contact", http.MethodGet, "Contacts", q, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Contacts) == 0 {
		return nil, nil
	}
	return &resp.Contacts[0], nil
}

// CreateContact creates a contact and returns it with its Xero ID.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	var resp contactsEnvelope
	body := contactsEnvelope{Contacts: []Contact{contact}}
	if err := c.accounting(ctx, "xero.create_contact", http.MethodPut, "Contacts", nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Contacts) == 0 || resp.Contacts[0].ContactID == "" {
		return nil, boerrors.Upstream("xero.create_contact", provider, fmt.Errorf("response contained no contact"))
	}
	return &resp.Contacts[0], nil
}

// SplitName splits a full name at the first space. Everything after it is
// the last name, so "Mary Anne Smith" becomes "Mary" and "Anne Smith".
func SplitName(name string) (first, last string) {
	first, last, _ = strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}

// NewCustomerContact builds the contact created for a first-time payer.
func NewCustomerContact(p Payment) Contact {
	name := strings.TrimSpace(p.CustomerName)
	if name == "" {
		name = p.Email
	}
	first, last := SplitName(p.CustomerName)
	return Contact{
		Name:         name,
		FirstName:    first,
		LastName:     last,
		EmailAddress: p.Email,
		Addresses: []Address{{
			AddressType:  "STREET",
			AddressLine1: p.Address.Line1,
			City:         p.Address.City,
			Region:       p.Address.State,
			PostalCode:   p.Address.Postcode,
			Country:      p.Address.Country,
		}},
		Phones:        []Phone{{PhoneType: "DEFAULT", PhoneNumber: p.Phone}},
		IsCustomer:    true,
		TaxNumber:     p.ABN,
		ContactStatus: "ACTIVE",
	}
}
