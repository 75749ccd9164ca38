package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubscriptionCreatedEmail(t *testing.T) {
	msg, err := RenderSubscriptionCreatedEmail(SubscriptionCreatedData{
		CustomerName:    "Jane <script>",
		ProductName:     "Professional Development Subscription",
		Amount:          "AUD 49.99",
		Interval:        "month",
		NextBillingDate: time.Date(2026, 11, 17, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "Subscription Confirmation", msg.Subject)
	assert.Contains(t, msg.HTML, "AUD 49.99/month")
	assert.Contains(t, msg.HTML, "17 November 2026")
	assert.Contains(t, msg.HTML, "Jane &lt;script&gt;")
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.Text, "Jane <script>")
}

func TestRenderSubscriptionUpdatedEmail(t *testing.T) {
	msg, err := RenderSubscriptionUpdatedEmail(SubscriptionUpdatedData{
		CustomerName: "Jane",
		ProductName:  "Coaching",
		Changes:      []string{"Quantity changed from 1 to 3", "Plan changed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Subscription Updated", msg.Subject)
	assert.Contains(t, msg.HTML, "<li>Quantity changed from 1 to 3</li><li>Plan changed</li>")
	assert.Contains(t, msg.Text, "- Plan changed")
}

func TestRenderSubscriptionCancelledEmail(t *testing.T) {
	msg, err := RenderSubscriptionCancelledEmail(SubscriptionCancelledData{
		CustomerName: "Jane",
		ProductName:  "Coaching",
		EndDate:      time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "Subscription Cancellation Confirmation", msg.Subject)
	assert.Contains(t, msg.HTML, "remain active until 1 December 2026")
}

func TestRenderPaymentFailedEmail(t *testing.T) {
	msg, err := RenderPaymentFailedEmail(PaymentFailedData{CustomerName: "Jane", ProductName: "Coaching", Amount: "AUD 10.00"})
	require.NoError(t, err)
	assert.Equal(t, "Payment Failed - Action Required", msg.Subject)
	assert.NotContains(t, msg.HTML, "Next Retry Date")

	msg, err = RenderPaymentFailedEmail(PaymentFailedData{
		CustomerName: "Jane",
		Amount:       "AUD 10.00",
		RetryDate:    time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
		Reason:       "Your card was declined.",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "20 October 2026")
	assert.Contains(t, msg.HTML, "Your card was declined.")
}

func TestRenderReportRegistrationEmail(t *testing.T) {
	msg, err := RenderReportRegistrationEmail(ReportRegistrationData{
		FirstName:      "Sam",
		ReportURL:      "https://vcc.org.au/report.pdf",
		UnsubscribeURL: "https://vcc.org.au/unsubscribe?email=sam%40example.org",
	})
	require.NoError(t, err)
	assert.Equal(t, "Your VCC Employment Report", msg.Subject)
	assert.Contains(t, msg.HTML, `href="https://vcc.org.au/report.pdf"`)
	assert.Contains(t, msg.HTML, "unsubscribe?email=sam%40example.org")
	assert.Contains(t, msg.Text, "Hi Sam")
}
