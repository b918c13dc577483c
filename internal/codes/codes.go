// Package codes generates the human-readable entity codes used across the
// system: supplier item codes like PKG-0001, branch request codes like
// REQ-2026-000001, purchase order codes like PO-2026-000001 and item request
// codes in the undashed legacy form REQ-2026000001. Codes increment from the
// highest numeric suffix among existing codes for the same prefix scope, not
// from the row count, so deleted or skipped numbers are never reused out of
// order.
package codes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Prefixes for the year-scoped entity classes.
const (
	RequestPrefix       = "REQ"
	SupplierOrderPrefix = "PO"
	ItemPrefix          = "ITM"
)

var categoryPrefixes = map[string]string{
	"PACKAGING":         "PKG",
	"FOOD":              "FOOD",
	"BEVERAGE":          "BEV",
	"EQUIPMENT":         "EQP",
	"CLEANING SUPPLIES": "CLN",
	"OTHER":             "OTH",
}

// CategoryPrefix maps a supplier category name to its code prefix. Unlisted
// categories fall back to the first three letters uppercased.
func CategoryPrefix(category string) string {
	upper := strings.ToUpper(category)
	if p, ok := categoryPrefixes[upper]; ok {
		return p
	}
	runes := []rune(upper)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes)
}

// ItemCode formats a four-digit prefixed code, e.g. PKG-0001.
func ItemCode(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// YearCode formats a six-digit year-scoped code. Dashed produces
// REQ-2026-000001, undashed the legacy REQ-2026000001 form.
func YearCode(prefix string, year, n int, dashed bool) string {
	if dashed {
		return fmt.Sprintf("%s-%d-%06d", prefix, year, n)
	}
	return fmt.Sprintf("%s-%d%06d", prefix, year, n)
}

// Suffix extracts the numeric sequence suffix of a code. It takes the last
// contiguous digit run after any non-digit boundary; when the code has no
// delimiter between year and sequence it falls back to the last six
// characters as digits. Returns 0 and false when no number can be parsed.
func Suffix(code string) (int, bool) {
	// last contiguous digit run
	end := len(code)
	for end > 0 && !isDigit(code[end-1]) {
		end--
	}
	start := end
	for start > 0 && isDigit(code[start-1]) {
		start--
	}
	if start == end {
		return 0, false
	}
	run := code[start:end]
	// An undashed year-scoped code ends in one digit run holding both the
	// year and the sequence; take the last six digits in that case.
	if len(run) > 6 {
		run = run[len(run)-6:]
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// MaxSuffix returns the highest numeric suffix among the given codes.
// Unparseable codes are skipped.
func MaxSuffix(existing []string) int {
	max := 0
	for _, code := range existing {
		if n, ok := Suffix(code); ok && n > max {
			max = n
		}
	}
	return max
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. Generators treat it as a race lost to a concurrent creation and
// retry with the next number instead of failing the operation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
