package invoicepdf

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "INR 3238.89", FormatAmount(323889))
	assert.Equal(t, "INR 0.05", FormatAmount(5))
	assert.Equal(t, "INR 299.00", FormatAmount(29900))
}

func TestRenderProducesPDF(t *testing.T) {
	r := New()
	doc, err := r.Render(InvoiceData{
		InvoiceNumber: "INV-202606-000001",
		IssueDate:     "01 Jun 2026",
		DueDate:       "08 Jun 2026",
		Status:        "PENDING",
		SellerName:    "Vyom Cloud",
		SellerAddress: "support@vyomcloud.example",
		BillToLabel:   "Customer 123",
		Items: []LineItem{
			{Description: "VPS Small (web-01.example.com)", Period: "yearly", Amount: "INR 2744.82"},
		},
		Subtotal: "INR 2744.82",
		Tax:      "INR 494.07",
		Total:    "INR 3238.89",
	})
	require.NoError(t, err)

	body, err := io.ReadAll(doc)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	assert.Equal(t, "%PDF", string(body[:4]))
}
