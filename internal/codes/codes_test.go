package codes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoryPrefix(t *testing.T) {
	require.Equal(t, "PKG", CategoryPrefix("Packaging"))
	require.Equal(t, "FOOD", CategoryPrefix("FOOD"))
	require.Equal(t, "BEV", CategoryPrefix("beverage"))
	require.Equal(t, "CLN", CategoryPrefix("Cleaning Supplies"))
	require.Equal(t, "OTH", CategoryPrefix("Other"))
	require.Equal(t, "STR", CategoryPrefix("Straws"))
	require.Equal(t, "CU", CategoryPrefix("cu"))
}

func TestSuffix(t *testing.T) {
	cases := []struct {
		code string
		want int
		ok   bool
	}{
		{"PKG-0001", 1, true},
		{"PKG-0042", 42, true},
		{"REQ-2026-000013", 13, true},
		{"PO-2026-000001", 1, true},
		{"REQ-2026000123", 123, true},
		{"PO-2026999999", 999999, true},
		{"REQ-2026-0007", 7, true},
		{"BEV", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := Suffix(tc.code)
		require.Equal(t, tc.ok, ok, tc.code)
		require.Equal(t, tc.want, got, tc.code)
	}
}

func TestMaxSuffixSkipsGapsAndGarbage(t *testing.T) {
	existing := []string{"PKG-0001", "PKG-0005", "PKG-BAD", "", "PKG-0003"}
	require.Equal(t, 5, MaxSuffix(existing))
	require.Equal(t, "PKG-0006", ItemCode("PKG", MaxSuffix(existing)+1))
}

func TestYearCodeFormats(t *testing.T) {
	require.Equal(t, "REQ-2026-000001", YearCode(RequestPrefix, 2026, 1, true))
	require.Equal(t, "PO-2026-000120", YearCode(SupplierOrderPrefix, 2026, 120, true))
	require.Equal(t, "REQ-2026000009", YearCode(RequestPrefix, 2026, 9, false))
}

func TestMixedLegacyFormatsShareAScope(t *testing.T) {
	existing := []string{"REQ-2025-000010", "REQ-2025000022"}
	require.Equal(t, 22, MaxSuffix(existing))
}
