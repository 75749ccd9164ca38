package xero

import "encoding/json"

// Address is a Xero contact address.
type Address struct {
	AddressType  string `json:"AddressType"`
	AddressLine1 string `json:"AddressLine1,omitempty"`
	City         string `json:"City,omitempty"`
	Region       string `json:"Region,omitempty"`
	PostalCode   string `json:"PostalCode,omitempty"`
	Country      string `json:"Country,omitempty"`
}

// Phone is a Xero contact phone number.
type Phone struct {
	PhoneType   string `json:"PhoneType"`
	PhoneNumber string `json:"PhoneNumber"`
}

// Contact is the subset of a Xero contact the back office reads and writes.
type Contact struct {
	ContactID     string    `json:"ContactID,omitempty"`
	Name          string    `json:"Name"`
	FirstName     string    `json:"FirstName,omitempty"`
	LastName      string    `json:"LastName,omitempty"`
	EmailAddress  string    `json:"EmailAddress,omitempty"`
	ContactStatus string    `json:"ContactStatus,omitempty"`
	IsCustomer    bool      `json:"IsCustomer,omitempty"`
	TaxNumber     string    `json:"TaxNumber,omitempty"`
	Addresses     []Address `json:"Addresses,omitempty"`
	Phones        []Phone   `json:"Phones,omitempty"`
}

// ContactRef links an invoice to a contact.
type ContactRef struct {
	ContactID string `json:"ContactID"`
}

// LineItem is an invoice line. Amounts are decimal strings in major units.
type LineItem struct {
	Description string      `json:"Description"`
	Quantity    json.Number `json:"Quantity"`
	UnitAmount  json.Number `json:"UnitAmount"`
	AccountCode string      `json:"AccountCode"`
	TaxType     string      `json:"TaxType"`
	TaxAmount   json.Number `json:"TaxAmount"`
	LineAmount  json.Number `json:"LineAmount"`
}

// Invoice is the subset of a Xero invoice the back office reads and writes.
type Invoice struct {
	InvoiceID       string     `json:"InvoiceID,omitempty"`
	InvoiceNumber   string     `json:"InvoiceNumber,omitempty"`
	Type            string     `json:"Type"`
	Contact         ContactRef `json:"Contact"`
	LineItems       []LineItem `json:"LineItems"`
	Date            string     `json:"Date,omitempty"`
	DueDate         string     `json:"DueDate,omitempty"`
	Reference       string     `json:"Reference,omitempty"`
	Status          string     `json:"Status,omitempty"`
	LineAmountTypes string     `json:"LineAmountTypes,omitempty"`
	CurrencyCode    string     `json:"CurrencyCode,omitempty"`
	BrandingThemeID string     `json:"BrandingThemeID,omitempty"`
}

// BrandingTheme is an invoice template configured in Xero.
type BrandingTheme struct {
	BrandingThemeID string `json:"BrandingThemeID"`
	Name            string `json:"Name"`
	SortOrder       int    `json:"SortOrder"`
}

type contactsEnvelope struct {
	Contacts []Contact `json:"Contacts"`
}

type invoicesEnvelope struct {
	Invoices []Invoice `json:"Invoices"`
}

type brandingThemesEnvelope struct {
	BrandingThemes []BrandingTheme `json:"BrandingThemes"`
}
