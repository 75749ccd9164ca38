package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const displayDate = "2 January 2006"

var layout = template.Must(template.New("layout").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format(displayDate) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{template "title" .}}</title>
</head>
<body style="font-family: Arial, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<div style="max-width: 600px; margin: 0 auto; padding: 32px 24px; background: #ffffff;">
<h2 style="color: #1e3a5f;">{{template "title" .}}</h2>
{{template "body" .}}
<p>Best regards,<br>Virtual Career Coach</p>
</div>
</body>
</html>`))

func mustEmail(body string) *template.Template {
	return template.Must(template.Must(layout.Clone()).Parse(body))
}

const detailsBox = `style="background-color: #f8f9fa; padding: 20px; border-radius: 5px; margin: 20px 0;"`

var subscriptionCreatedTemplate = mustEmail(`{{define "title"}}Thank you for your subscription!{{end}}
{{define "body"}}<p>Dear {{.CustomerName}},</p>
<p>Your subscription to {{.ProductName}} has been successfully created.</p>
<div ` + detailsBox + `>
<h3 style="margin-top: 0;">Subscription Details</h3>
<p><strong>Product:</strong> {{.ProductName}}</p>
<p><strong>Amount:</strong> {{.Amount}}/{{.Interval}}</p>
<p><strong>Next Billing Date:</strong> {{date .NextBillingDate}}</p>
</div>
<p>You can manage your subscription anytime by visiting your account dashboard.</p>
<p>If you have any questions, please don't hesitate to contact our support team.</p>{{end}}`)

var subscriptionUpdatedTemplate = mustEmail(`{{define "title"}}Subscription Update Confirmation{{end}}
{{define "body"}}<p>Dear {{.CustomerName}},</p>
<p>Your subscription to {{.ProductName}} has been updated.</p>
<div ` + detailsBox + `>
<h3 style="margin-top: 0;">Changes Made</h3>
<ul>{{range .Changes}}<li>{{.}}</li>{{end}}</ul>
<p><strong>Next Billing Date:</strong> {{date .NextBillingDate}}</p>
</div>
<p>You can review these changes in your account dashboard.</p>
<p>If you didn't make these changes or have any questions, please contact our support team immediately.</p>{{end}}`)

var subscriptionCancelledTemplate = mustEmail(`{{define "title"}}Subscription Cancellation Confirmation{{end}}
{{define "body"}}<p>Dear {{.CustomerName}},</p>
<p>We're sorry to see you go. Your subscription to {{.ProductName}} has been cancelled.</p>
<div ` + detailsBox + `>
<h3 style="margin-top: 0;">Cancellation Details</h3>
<p>Your subscription will remain active until {{date .EndDate}}.</p>
</div>
<p>If you cancelled by mistake or would like to resubscribe, you can do so through your account dashboard.</p>
<p>We'd love to hear your feedback on how we can improve our service.</p>{{end}}`)

var paymentFailedTemplate = mustEmail(`{{define "title"}}Payment Failed{{end}}
{{define "body"}}<p>Dear {{.CustomerName}},</p>
<p>We were unable to process the payment for your subscription to {{.ProductName}}.</p>
<div ` + detailsBox + `>
<h3 style="margin-top: 0;">Payment Details</h3>
<p><strong>Amount:</strong> {{.Amount}}</p>
{{if not .RetryDate.IsZero}}<p><strong>Next Retry Date:</strong> {{date .RetryDate}}</p>{{end}}
{{if .Reason}}<p><strong>Reason:</strong> {{.Reason}}</p>{{end}}
</div>
<p>To ensure uninterrupted service, please:</p>
<ol>
<li>Check your payment method details in your account dashboard</li>
<li>Ensure your card hasn't expired</li>
<li>Verify you have sufficient funds available</li>
</ol>
<p>If you need assistance, please contact our support team.</p>{{end}}`)

var reportRegistrationTemplate = mustEmail(`{{define "title"}}Your VCC Employment Report{{end}}
{{define "body"}}<p>Hi {{.FirstName}},</p>
<p>Thanks for registering. Your copy of the VCC Employment Report is ready.</p>
<p style="text-align: center; margin: 28px 0;">
<a href="{{.ReportURL}}" style="display: inline-block; padding: 12px 32px; background: #1e3a5f; color: #ffffff; text-decoration: none; border-radius: 6px;">Download the report</a>
</p>
<p style="color: #999; font-size: 13px;">Don't want to hear from us? <a href="{{.UnsubscribeURL}}">Unsubscribe</a>.</p>{{end}}`)

// SubscriptionCreatedData holds template data for the confirmation email.
type SubscriptionCreatedData struct {
	CustomerName    string
	ProductName     string
	Amount          string // formatted with currency, e.g. "AUD 49.99"
	Interval        string
	NextBillingDate time.Time
}

// SubscriptionUpdatedData holds template data for the update email.
type SubscriptionUpdatedData struct {
	CustomerName    string
	ProductName     string
	Changes         []string
	NextBillingDate time.Time
}

// SubscriptionCancelledData holds template data for the cancellation email.
type SubscriptionCancelledData struct {
	CustomerName string
	ProductName  string
	EndDate      time.Time
}

// PaymentFailedData holds template data for the failed payment email.
// A zero RetryDate omits the retry line.
type PaymentFailedData struct {
	CustomerName string
	ProductName  string
	Amount       string
	RetryDate    time.Time
	Reason       string
}

// ReportRegistrationData holds template data for the report delivery email.
type ReportRegistrationData struct {
	FirstName      string
	ReportURL      string
	UnsubscribeURL string
}

func render(name string, tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// RenderSubscriptionCreatedEmail renders the subscription confirmation email.
func RenderSubscriptionCreatedEmail(data SubscriptionCreatedData) (Message, error) {
	html, err := render("subscription created", subscriptionCreatedTemplate, data)
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Dear %s,\n\nYour subscription to %s has been successfully created.\n\nAmount: %s/%s\nNext billing date: %s\n",
		data.CustomerName, data.ProductName, data.Amount, data.Interval, data.NextBillingDate.Format(displayDate))
	return Message{Subject: "Subscription Confirmation", HTML: html, Text: text}, nil
}

// RenderSubscriptionUpdatedEmail renders the subscription update email.
func RenderSubscriptionUpdatedEmail(data SubscriptionUpdatedData) (Message, error) {
	html, err := render("subscription updated", subscriptionUpdatedTemplate, data)
	if err != nil {
		return Message{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nYour subscription to %s has been updated.\n\n", data.CustomerName, data.ProductName)
	for _, c := range data.Changes {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	fmt.Fprintf(&b, "\nNext billing date: %s\n", data.NextBillingDate.Format(displayDate))
	return Message{Subject: "Subscription Updated", HTML: html, Text: b.String()}, nil
}

// RenderSubscriptionCancelledEmail renders the cancellation confirmation email.
func RenderSubscriptionCancelledEmail(data SubscriptionCancelledData) (Message, error) {
	html, err := render("subscription cancelled", subscriptionCancelledTemplate, data)
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Dear %s,\n\nYour subscription to %s has been cancelled. It will remain active until %s.\n",
		data.CustomerName, data.ProductName, data.EndDate.Format(displayDate))
	return Message{Subject: "Subscription Cancellation Confirmation", HTML: html, Text: text}, nil
}

// RenderPaymentFailedEmail renders the failed payment notice.
func RenderPaymentFailedEmail(data PaymentFailedData) (Message, error) {
	html, err := render("payment failed", paymentFailedTemplate, data)
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Dear %s,\n\nWe were unable to process the payment of %s for your subscription to %s.\nPlease check your payment method in your account dashboard.\n",
		data.CustomerName, data.Amount, data.ProductName)
	return Message{Subject: "Payment Failed - Action Required", HTML: html, Text: text}, nil
}

// RenderReportRegistrationEmail renders the employment report delivery email.
func RenderReportRegistrationEmail(data ReportRegistrationData) (Message, error) {
	html, err := render("report registration", reportRegistrationTemplate, data)
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Hi %s,\n\nYour copy of the VCC Employment Report is ready: %s\n\nUnsubscribe: %s\n",
		data.FirstName, data.ReportURL, data.UnsubscribeURL)
	return Message{Subject: "Your VCC Employment Report", HTML: html, Text: text}, nil
}
