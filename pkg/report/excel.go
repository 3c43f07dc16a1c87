// Package report renders the certificate store inventory for auditors.
package report

import (
	"crypto/x509"
	"time"

	"github.com/xuri/excelize/v2"

	"xsec-crypto/pkg/certstore"
)

// SheetName is the worksheet holding the inventory.
const SheetName = "Certificates"

// Columns of the inventory, in order.
var Columns = []string{"Fingerprint", "Label", "Key type", "Provider", "Subject", "Not after", "Added"}

// Row is one inventory line.
type Row struct {
	Fingerprint string
	Label       string
	KeyType     string
	Provider    string
	Subject     string
	NotAfter    string
	Added       string

	// Parsed is false when the stored DER is not a certificate Go can read.
	Parsed bool
}

// Rows derives the inventory lines. Subject and expiry come from the DER;
// they stay empty for encodings Go cannot parse.
func Rows(records []certstore.Record) []Row {
	out := make([]Row, 0, len(records))
	for _, rec := range records {
		row := Row{
			Fingerprint: rec.Fingerprint,
			Label:       rec.Label,
			KeyType:     rec.KeyType,
			Provider:    rec.Provider,
			Added:       rec.AddedAt.UTC().Format(time.RFC3339),
		}
		if cert, err := x509.ParseCertificate(rec.DER); err == nil {
			row.Subject = cert.Subject.String()
			row.NotAfter = cert.NotAfter.UTC().Format(time.RFC3339)
			row.Parsed = true
		}
		out = append(out, row)
	}
	return out
}

// Inventory renders records as an XLSX workbook, one row per record.
func Inventory(records []certstore.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, err
	}

	// header
	for i, h := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, err
		}
	}

	// rows
	for r, rr := range Rows(records) {
		row := r + 2
		values := []any{rr.Fingerprint, rr.Label, rr.KeyType, rr.Provider, rr.Subject, rr.NotAfter, rr.Added}
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
