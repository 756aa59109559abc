// Package pdfgen renders printable invoice documents. The layout is fixed:
// letter pages in points, branding header, metadata block, item table that
// paginates past y 700, totals, refund history and a void banner when they
// apply.
package pdfgen

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"healthtrack/backend/internal/domain"
)

// walkInName marks a sale without a registered patient; the buyer block
// collapses to a single line for it.
const walkInName = "Mostrador"

const (
	pageBreakY = 700
	footerY    = 750
)

// Invoice renders the document for one invoice detail. Rendering is pure: the
// same detail always yields the same layout.
func Invoice(detail *domain.InvoiceDetail) ([]byte, error) {
	inv := detail.Invoice

	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(50, 50, 50)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "", 10)
	rightText(pdf, 400, 50, 150, "HealthTrack Systems")
	rightText(pdf, 400, 65, 150, "Control, precision y bienestar")
	rightText(pdf, 400, 80, 150, "Tel: +506 2222-3333")
	rightText(pdf, 400, 95, 150, "info@healthtrack.cr")

	pdf.SetFont("Helvetica", "", 20)
	centerText(pdf, 50, 140, 500, "FACTURA")

	pdf.SetFont("Helvetica", "", 12)
	leftText(pdf, 50, 180, fmt.Sprintf("Factura #: %d", inv.InvoiceID))
	leftText(pdf, 50, 200, "Numero: "+orNA(inv.InvoiceNumber))
	leftText(pdf, 50, 220, "Fecha: "+formatDate(inv.InvoiceDate))
	leftText(pdf, 50, 240, "Vendedor: "+orNA(inv.SoldByName))

	if inv.PatientName != "" && inv.PatientName != walkInName {
		leftText(pdf, 350, 180, "Cliente: "+inv.PatientName)
		leftText(pdf, 350, 200, "Documento: "+orNA(inv.PatientDocument))
	} else {
		leftText(pdf, 350, 180, "Cliente: "+walkInName)
	}

	status := "ACTIVA"
	if inv.IsVoided {
		status = "ANULADA"
	} else if len(detail.Refunds) > 0 {
		status = "CON REEMBOLSO"
	}
	pdf.SetFont("Helvetica", "", 10)
	leftText(pdf, 350, 240, "Estado: "+status)

	pdf.Line(50, 270, 550, 270)

	pdf.SetFont("Helvetica", "B", 10)
	leftText(pdf, 50, 290, "Producto")
	leftText(pdf, 300, 290, "Cant.")
	leftText(pdf, 350, 290, "Precio Unit.")
	rightText(pdf, 460, 290, 90, "Total")

	pdf.SetFont("Helvetica", "", 9)
	y := float64(315)
	for _, item := range detail.Items {
		leftText(pdf, 50, y, truncate(item.ProductName, 48))
		leftText(pdf, 300, y, fmt.Sprintf("%d", item.Quantity))
		leftText(pdf, 350, y, "CRC "+money(item.UnitPrice))
		rightText(pdf, 460, y, 90, "CRC "+money(item.LineTotal))
		y += 25
		if y > pageBreakY {
			pdf.AddPage()
			y = 50
		}
	}

	y += 20
	pdf.Line(50, y, 550, y)
	y += 15

	pdf.SetFont("Helvetica", "", 10)
	leftText(pdf, 380, y, "Subtotal:")
	rightText(pdf, 460, y, 90, "CRC "+money(inv.Subtotal))
	y += 20
	leftText(pdf, 380, y, "IVA (13%):")
	rightText(pdf, 460, y, 90, "CRC "+money(inv.TaxTotal))

	if inv.DiscountTotal.IsPositive() {
		y += 20
		leftText(pdf, 380, y, "Descuento:")
		rightText(pdf, 460, y, 90, "CRC "+money(inv.DiscountTotal))
	}
	if inv.InsuranceCoverage.IsPositive() {
		y += 20
		leftText(pdf, 380, y, "Cobertura Seguro:")
		rightText(pdf, 460, y, 90, "CRC "+money(inv.InsuranceCoverage))
	}

	y += 25
	pdf.SetFont("Helvetica", "B", 12)
	leftText(pdf, 380, y, "TOTAL:")
	rightText(pdf, 460, y, 90, "CRC "+money(inv.GrandTotal))

	if inv.InsuranceCoverage.IsPositive() {
		y += 25
		pdf.SetFont("Helvetica", "B", 11)
		leftText(pdf, 380, y, "Paciente Paga:")
		rightText(pdf, 460, y, 90, "CRC "+money(inv.PatientPays))
	}

	if len(detail.Refunds) > 0 {
		y += 40
		if y > 650 {
			pdf.AddPage()
			y = 50
		}
		pdf.SetFont("Helvetica", "B", 12)
		leftText(pdf, 50, y, "HISTORIAL DE REEMBOLSOS")
		y += 20

		pdf.SetFont("Helvetica", "", 9)
		for _, r := range detail.Refunds {
			leftText(pdf, 50, y, fmt.Sprintf("Reembolso #%d - %s", r.RefundID, formatDate(r.ProcessedAt)))
			leftText(pdf, 70, y+15, "Monto: CRC "+money(r.Amount))
			leftText(pdf, 70, y+30, "Metodo: "+r.Method)
			leftText(pdf, 70, y+45, "Razon: "+r.Reason)
			leftText(pdf, 70, y+60, "Procesado por: "+orNA(r.ProcessedByName))
			y += 85
			if y > pageBreakY {
				pdf.AddPage()
				y = 50
			}
		}
	}

	if inv.IsVoided {
		y += 40
		if y > 650 {
			pdf.AddPage()
			y = 50
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetTextColor(255, 0, 0)
		leftText(pdf, 50, y, "FACTURA ANULADA")
		y += 20

		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "", 9)
		leftText(pdf, 70, y, "Razon: "+orNA(inv.VoidReason))
		leftText(pdf, 70, y+15, "Anulado por: "+orNA(inv.VoidedByName))
		voidedAt := "N/A"
		if inv.VoidedAt != nil {
			voidedAt = formatDate(*inv.VoidedAt)
		}
		leftText(pdf, 70, y+30, "Fecha: "+voidedAt)
	}

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(128, 128, 128)
	centerText(pdf, 50, footerY, 500, "Gracias por su compra")
	centerText(pdf, 50, footerY+15, 500, "HealthTrack Systems - Sistema de Gestion Farmaceutica")
	pdf.SetTextColor(0, 0, 0)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func leftText(pdf *gofpdf.Fpdf, x, y float64, text string) {
	pdf.Text(x, y+8, text)
}

func rightText(pdf *gofpdf.Fpdf, x, y, width float64, text string) {
	pdf.SetXY(x, y)
	pdf.CellFormat(width, 10, text, "", 0, "R", false, 0, "")
}

func centerText(pdf *gofpdf.Fpdf, x, y, width float64, text string) {
	pdf.SetXY(x, y)
	pdf.CellFormat(width, 10, text, "", 0, "C", false, 0, "")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("02/01/2006")
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

func truncate(v string, max int) string {
	if len(v) <= max {
		return v
	}
	return v[:max-3] + "..."
}

// money renders an amount with two decimals and thousands separators, e.g.
// 2,260.00.
func money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
