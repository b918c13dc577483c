package consumption

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// ErrNoProductColumn indicates the upload has no recognizable Product
// header.
var ErrNoProductColumn = errors.New("consumption: no product column found")

// header names are matched after lowercasing and stripping all whitespace,
// so "Popularity Category", "popularity_category" and "POPULARITY CATEGORY"
// all resolve.
var headerAliases = map[string]string{
	"product":            "product",
	"productname":        "product",
	"quantity":           "qty",
	"qty":                "qty",
	"sales":              "sales",
	"popularity":         "popularity",
	"popularitycategory": "popularity_category",
}

func normalizeHeader(raw string) string {
	cleaned := strings.ToLower(raw)
	cleaned = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '_' || r == '-' {
			return -1
		}
		return r
	}, cleaned)
	return headerAliases[cleaned]
}

// ParseRows reads an uploaded CSV sheet into deduplicated rows. The first
// record is the header; a Product column is required, Quantity, Sales,
// Popularity and Popularity Category are optional. Rows repeating a product
// name keep the first occurrence. A row without a quantity counts as one
// unit.
func ParseRows(r io.Reader) ([]ParsedRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoProductColumn
		}
		return nil, err
	}
	columns := map[string]int{}
	for i, raw := range header {
		if name := normalizeHeader(raw); name != "" {
			if _, taken := columns[name]; !taken {
				columns[name] = i
			}
		}
	}
	productCol, ok := columns["product"]
	if !ok {
		return nil, ErrNoProductColumn
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []ParsedRow
	seen := map[string]bool{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if productCol >= len(record) {
			continue
		}
		// Spreadsheet exports sometimes emit decomposed Unicode; normalize
		// so the product matches the rule saved from an earlier upload.
		product := norm.NFC.String(strings.TrimSpace(record[productCol]))
		if product == "" || seen[product] {
			continue
		}
		seen[product] = true

		qty := decimal.NewFromInt(1)
		if raw := field(record, "qty"); raw != "" {
			if parsed, err := decimal.NewFromString(raw); err == nil && parsed.Sign() > 0 {
				qty = parsed
			}
		}
		rows = append(rows, ParsedRow{
			Product:            product,
			Qty:                qty,
			Sales:              field(record, "sales"),
			Popularity:         field(record, "popularity"),
			PopularityCategory: field(record, "popularity_category"),
		})
	}
	return rows, nil
}
