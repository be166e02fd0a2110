package utils

import (
	"bytes"
	"fmt"

	"github.com/tealeg/xlsx"

	"github.com/emeka-okafor/kudipal/models"
)

// StatementXLSX builds an account statement spreadsheet covering the given
// transactions, newest first.
func StatementXLSX(user *models.User, transactions []models.Transaction) ([]byte, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Statement")
	if err != nil {
		return nil, fmt.Errorf("failed to create statement sheet: %v", err)
	}

	title := sheet.AddRow()
	title.AddCell().SetString(fmt.Sprintf("KudiPal statement for %s (%s)", user.FullName(), user.WhatsAppNumber))
	sheet.AddRow()

	header := sheet.AddRow()
	for _, h := range []string{"Date", "Reference", "Type", "Category", "Amount", "Fee", "Status", "Description"} {
		header.AddCell().SetString(h)
	}

	for _, tx := range transactions {
		row := sheet.AddRow()
		row.AddCell().SetString(tx.CreatedAt.Format("2006-01-02 15:04:05"))
		row.AddCell().SetString(tx.Reference)
		row.AddCell().SetString(tx.Type)
		row.AddCell().SetString(tx.Category)
		row.AddCell().SetFloat(tx.Amount)
		row.AddCell().SetFloat(tx.Fee)
		row.AddCell().SetString(tx.Status)
		row.AddCell().SetString(tx.Description)
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write statement: %v", err)
	}
	return buf.Bytes(), nil
}
