package consumption

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseRowsMatchesHeadersLoosely(t *testing.T) {
	sheet := "PRODUCT , quantity,Sales, popularity_category\nBurger Box,3,120,High\nCup Sleeve,2,80,Low\n"
	rows, err := ParseRows(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Burger Box", rows[0].Product)
	require.True(t, rows[0].Qty.Equal(decimal.NewFromInt(3)))
	require.Equal(t, "120", rows[0].Sales)
	require.Equal(t, "High", rows[0].PopularityCategory)
}

func TestParseRowsFirstOccurrenceWins(t *testing.T) {
	sheet := "Product,Quantity\nBurger Box,3\nBurger Box,9\nCup Sleeve,2\n"
	rows, err := ParseRows(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Qty.Equal(decimal.NewFromInt(3)))
}

func TestParseRowsDefaultsQuantityToOne(t *testing.T) {
	sheet := "Product\nBurger Box\n"
	rows, err := ParseRows(strings.NewReader(sheet))
	require.NoError(t, err)
	require.True(t, rows[0].Qty.Equal(decimal.NewFromInt(1)))

	// unparseable and non-positive quantities fall back too
	sheet = "Product,Quantity\nBurger Box,n/a\nCup Sleeve,-4\n"
	rows, err = ParseRows(strings.NewReader(sheet))
	require.NoError(t, err)
	require.True(t, rows[0].Qty.Equal(decimal.NewFromInt(1)))
	require.True(t, rows[1].Qty.Equal(decimal.NewFromInt(1)))
}

func TestParseRowsRequiresProductColumn(t *testing.T) {
	_, err := ParseRows(strings.NewReader("Quantity,Sales\n3,120\n"))
	require.ErrorIs(t, err, ErrNoProductColumn)

	_, err = ParseRows(strings.NewReader(""))
	require.ErrorIs(t, err, ErrNoProductColumn)
}

func TestParseRowsSkipsBlankAndShortRows(t *testing.T) {
	sheet := "Sales,Product,Quantity\n120,Burger Box,3\n80\n90, ,1\n"
	rows, err := ParseRows(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
