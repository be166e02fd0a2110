package utils

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/emeka-okafor/kudipal/models"
)

// ReceiptDetails carries the recipient fields printed on a transfer receipt.
type ReceiptDetails struct {
	RecipientName string
	AccountNumber string
	BankName      string
	Narration     string
}

// TransferReceiptPDF renders a one-page receipt for a completed transfer,
// sent to the user as a WhatsApp document.
func TransferReceiptPDF(user *models.User, tx *models.Transaction, details ReceiptDetails) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "KudiPal Transfer Receipt")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 10)
	row := func(label, value string) {
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(40, 7, label, "", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}

	completedAt := tx.CreatedAt
	if tx.CompletedAt != nil {
		completedAt = *tx.CompletedAt
	}

	row("Status", "Successful")
	row("Amount", fmt.Sprintf("NGN %.2f", tx.Amount))
	row("Fee", fmt.Sprintf("NGN %.2f", tx.Fee))
	row("Total", fmt.Sprintf("NGN %.2f", tx.TotalAmount))
	row("Recipient", details.RecipientName)
	row("Account", MaskAccountNumber(details.AccountNumber))
	row("Bank", details.BankName)
	if details.Narration != "" {
		row("Narration", details.Narration)
	}
	row("Reference", tx.Reference)
	row("Date", completedAt.Format("02 Jan 2006 15:04"))
	row("Sender", user.FullName())

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.MultiCell(0, 5, fmt.Sprintf("Generated %s. Keep this receipt for your records.",
		time.Now().Format("02 Jan 2006 15:04")), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %v", err)
	}
	return buf.Bytes(), nil
}
