// internal/pkg/pdf/service.go
package pdf

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/store"
)

// Service handles PDF generation
type Service struct{}

// NewService creates a new PDF service
func NewService() *Service {
	return &Service{}
}

// GenerateReceipt generates a PDF receipt for an order
func (s *Service) GenerateReceipt(st *store.Store, o *order.Order) (*bytes.Buffer, error) {
	data := receiptData{
		ReceiptNumber: fmt.Sprintf("RCPT-%s", o.OrderNumber),
		IssuedAt:      time.Now().Format("January 2, 2006 15:04"),
		Store:         st,
		Order:         o,
	}

	htmlContent, err := s.generateHTML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to generate HTML: %w", err)
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF generator: %w", err)
	}

	pdfg.Dpi.Set(300)
	pdfg.Orientation.Set(wkhtmltopdf.OrientationPortrait)

	page := wkhtmltopdf.NewPageReader(bytes.NewReader([]byte(htmlContent)))
	page.FooterRight.Set("[page]")
	page.FooterFontSize.Set(9)
	page.Zoom.Set(0.95)

	pdfg.AddPage(page)

	if err := pdfg.Create(); err != nil {
		return nil, fmt.Errorf("failed to create PDF: %w", err)
	}

	return bytes.NewBuffer(pdfg.Bytes()), nil
}

func (s *Service) generateHTML(data receiptData) (string, error) {
	tmpl := template.Must(template.New("receipt").Funcs(template.FuncMap{
		"money": func(cents int64) string {
			return fmt.Sprintf("%d.%02d", cents/100, cents%100)
		},
	}).Parse(receiptTemplate))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// receiptData represents the data passed to the receipt template
type receiptData struct {
	ReceiptNumber string
	IssuedAt      string
	Store         *store.Store
	Order         *order.Order
}

// Receipt HTML template
const receiptTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Receipt {{.ReceiptNumber}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; color: #222; }
        .header { display: flex; justify-content: space-between; margin-bottom: 24px; }
        .store-name { font-size: 22px; font-weight: bold; }
        .meta { text-align: right; font-size: 12px; color: #555; }
        table { width: 100%; border-collapse: collapse; margin-top: 16px; }
        th { text-align: left; border-bottom: 2px solid #222; padding: 6px 4px; font-size: 12px; }
        td { border-bottom: 1px solid #ddd; padding: 6px 4px; font-size: 12px; }
        .num { text-align: right; }
        .totals { margin-top: 16px; width: 40%; margin-left: auto; }
        .totals td { border: none; padding: 3px 4px; }
        .totals .grand td { border-top: 2px solid #222; font-weight: bold; }
        .footer { margin-top: 32px; font-size: 11px; color: #777; }
    </style>
</head>
<body>
    <div class="header">
        <div>
            <div class="store-name">{{.Store.Name}}</div>
            <div>{{.Store.AddressLine}}</div>
        </div>
        <div class="meta">
            <div><strong>{{.ReceiptNumber}}</strong></div>
            <div>Order {{.Order.OrderNumber}}</div>
            <div>{{.IssuedAt}}</div>
        </div>
    </div>

    <div>
        <strong>{{.Order.CustomerName}}</strong><br>
        {{.Order.CustomerPhone}}<br>
        {{if eq .Order.FulfillmentType "delivery"}}{{.Order.DeliveryAddress}}{{else}}Pickup{{end}}
    </div>

    <table>
        <thead>
            <tr><th>Item</th><th class="num">Qty</th><th class="num">Unit</th><th class="num">Total</th></tr>
        </thead>
        <tbody>
            {{range .Order.Items}}
            <tr>
                <td>{{.ProductName}}{{if .VariantName}} ({{.VariantName}}){{end}}</td>
                <td class="num">{{.Quantity}}</td>
                <td class="num">{{money .UnitPrice}}</td>
                <td class="num">{{money .TotalPrice}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>

    <table class="totals">
        <tr><td>Subtotal</td><td class="num">{{money .Order.Subtotal}}</td></tr>
        {{if gt .Order.DiscountAmount 0}}<tr><td>Discount{{if .Order.CouponCode}} ({{.Order.CouponCode}}){{end}}</td><td class="num">-{{money .Order.DiscountAmount}}</td></tr>{{end}}
        {{if gt .Order.TaxAmount 0}}<tr><td>Tax</td><td class="num">{{money .Order.TaxAmount}}</td></tr>{{end}}
        {{if gt .Order.DeliveryFee 0}}<tr><td>Delivery</td><td class="num">{{money .Order.DeliveryFee}}</td></tr>{{end}}
        <tr class="grand"><td>Total {{.Order.Currency}}</td><td class="num">{{money .Order.Total}}</td></tr>
    </table>

    <div class="footer">Thank you for your order!</div>
</body>
</html>
`
