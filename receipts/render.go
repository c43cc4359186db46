package receipts

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"ecommerce-backend/models"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

type OrderReceipt struct {
	OrderID      string
	CustomerName string
	OrderedAt    time.Time
	Address      string
	Card         string
	Items        []models.OrderItemDetail
	Total        decimal.Decimal
}

type RefundReceipt struct {
	RefundID     string
	OrderID      string
	CustomerName string
	ProductName  string
	Image        string
	Quantity     int
	Amount       decimal.Decimal
	ApprovedAt   time.Time
}

func money(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func date(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") }

var funcs = template.FuncMap{"money": money, "date": date}

var orderEmail = template.Must(template.New("order").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Receipt {{.OrderID}}</title></head>
<body>
<h1>Thank you for your order, {{.CustomerName}}!</h1>
<p>Order <strong>{{.OrderID}}</strong> placed {{date .OrderedAt}}</p>
<p>Shipping to: {{.Address}}<br>Paid with: {{.Card}}</p>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th></th><th>Product</th><th>Quantity</th><th>Price</th><th>Subtotal</th></tr>
{{range .Items}}<tr>
<td>{{if .Image}}<img src="{{.Image}}" alt="" width="64">{{end}}</td>
<td>{{.ProductName}}</td><td>{{.Quantity}}</td><td>{{money .Price}}</td><td>{{money .Subtotal}}</td>
</tr>
{{end}}</table>
<p><strong>Total: {{money .Total}}</strong></p>
<p>Your receipt is attached as a PDF.</p>
</body>
</html>
`))

var refundEmail = template.Must(template.New("refund").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Refund {{.RefundID}}</title></head>
<body>
<h1>Refund Approved!</h1>
<p>Hello {{.CustomerName}}, your refund for order <strong>{{.OrderID}}</strong> was approved {{date .ApprovedAt}}.</p>
<p>{{if .Image}}<img src="{{.Image}}" alt="" width="64"> {{end}}{{.ProductName}} x {{.Quantity}}</p>
<p><strong>{{money .Amount}}</strong> has been credited to your account balance.</p>
</body>
</html>
`))

// OrderEmail renders the HTML body of the order receipt email.
func OrderEmail(r OrderReceipt) (string, error) {
	var buf bytes.Buffer
	if err := orderEmail.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render order email: %w", err)
	}
	return buf.String(), nil
}

func RefundEmail(r RefundReceipt) (string, error) {
	var buf bytes.Buffer
	if err := refundEmail.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render refund email: %w", err)
	}
	return buf.String(), nil
}

// receiptPDF wraps fpdf with the page setup shared by both receipt kinds.
// Text goes through the cp1252 translator so accented names survive the
// core fonts.
type receiptPDF struct {
	*fpdf.Fpdf
	tr func(string) string
}

func newReceiptPDF(title string, created time.Time) *receiptPDF {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.SetCreator("ecommerce-backend", false)
	if !created.IsZero() {
		pdf.SetCreationDate(created)
		pdf.SetModificationDate(created)
	}
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	return &receiptPDF{Fpdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (p *receiptPDF) heading(text string) {
	p.SetFont("Helvetica", "B", 18)
	p.CellFormat(0, 10, p.tr(text), "", 1, "L", false, 0, "")
	p.Ln(4)
}

func (p *receiptPDF) line(text string) {
	p.SetFont("Helvetica", "", 11)
	p.MultiCell(0, 6, p.tr(text), "", "L", false)
}

func (p *receiptPDF) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderOrder renders the order receipt document as a PDF.
func RenderOrder(r OrderReceipt) ([]byte, error) {
	pdf := newReceiptPDF("Receipt "+r.OrderID, r.OrderedAt)
	pdf.heading("Thank you for your order, " + r.CustomerName + "!")
	pdf.line("Order " + r.OrderID + " placed " + date(r.OrderedAt))
	pdf.line("Shipping to: " + r.Address)
	pdf.line("Paid with: " + r.Card)
	pdf.Ln(6)

	widths := []float64{80, 25, 30, 35}
	pdf.SetFont("Helvetica", "B", 11)
	for i, h := range []string{"Product", "Quantity", "Price", "Subtotal"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range r.Items {
		pdf.CellFormat(widths[0], 8, pdf.tr(item.ProductName), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 8, strconv.Itoa(item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 8, money(item.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 8, money(item.Subtotal), "1", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(widths[0]+widths[1]+widths[2], 10, "Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(widths[3], 10, money(r.Total), "", 1, "R", false, 0, "")

	body, err := pdf.render()
	if err != nil {
		return nil, fmt.Errorf("render order receipt: %w", err)
	}
	return body, nil
}

// RenderRefund renders the refund receipt document as a PDF.
func RenderRefund(r RefundReceipt) ([]byte, error) {
	pdf := newReceiptPDF("Refund "+r.RefundID, r.ApprovedAt)
	pdf.heading("Refund Approved!")
	pdf.line("Hello " + r.CustomerName + ", your refund for order " + r.OrderID + " was approved " + date(r.ApprovedAt) + ".")
	pdf.Ln(4)
	pdf.line(fmt.Sprintf("%s x %d", r.ProductName, r.Quantity))
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.MultiCell(0, 8, money(r.Amount)+" has been credited to your account balance.", "", "L", false)

	body, err := pdf.render()
	if err != nil {
		return nil, fmt.Errorf("render refund receipt: %w", err)
	}
	return body, nil
}
