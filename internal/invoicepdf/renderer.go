// Package invoicepdf renders customer invoices as PDF documents.
package invoicepdf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// InvoiceData is everything the document shows. Amounts arrive preformatted so
// the renderer stays ignorant of currency arithmetic.
type InvoiceData struct {
	InvoiceNumber string
	IssueDate     string
	DueDate       string
	Status        string

	SellerName    string
	SellerAddress string
	BillToLabel   string

	Items []LineItem

	Subtotal string
	Tax      string
	Total    string
}

type LineItem struct {
	Description string
	Period      string
	Amount      string
}

// FormatAmount renders paise as a printable rupee amount, e.g. "INR 3238.89".
func FormatAmount(paise int64) string {
	return fmt.Sprintf("INR %d.%02d", paise/100, paise%100)
}

type Renderer struct{}

func New() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(data InvoiceData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Tax Invoice", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.Status, props.Text{
			Size:  12,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+data.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+data.IssueDate, props.Text{Top: 5}),
			text.New("Due date: "+data.DueDate, props.Text{Top: 10}),
		),
		col.New(6),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New(data.SellerName, props.Text{Style: fontstyle.Bold}),
			text.New(data.SellerAddress, props.Text{Top: 5, Size: 9}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(data.BillToLabel, props.Text{Top: 5, Size: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Period", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range data.Items {
		m.AddRow(12,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(3, item.Period, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(6),
		text.NewCol(3, "Subtotal", props.Text{Size: 9}),
		text.NewCol(3, data.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(6),
		text.NewCol(3, "Tax (GST)", props.Text{Size: 9}),
		text.NewCol(3, data.Tax, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(3, data.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
