package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestParseResponseStripsFences(t *testing.T) {
	text := "```json\n{\"invoice_date\":\"05.02.2026\",\"items\":[{\"name\":\"Цемент М500\",\"quantity\":10,\"unit\":\"меш\",\"price\":500,\"total\":5000,\"category\":\"Сухие смеси\"}]}\n```"

	res, err := ParseResponse(text, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "05.02.2026", res.InvoiceDate)
	require.Len(t, res.Items, 1)
	require.Equal(t, "Цемент М500", res.Items[0].Name)
	require.Equal(t, "10", res.Items[0].Quantity.String())
	require.Equal(t, "5000", res.Items[0].Total.String())
}

func TestParseResponseAcceptsQuotedNumbers(t *testing.T) {
	res, err := ParseResponse(`{"invoice_date":"","items":[{"name":"Саморез","quantity":"2.5","price":"12.40"}]}`, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "2.5", res.Items[0].Quantity.String())
	require.Equal(t, "14.03.2026", res.InvoiceDate)
}

func TestParseResponseFailures(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"not json":       "Sorry, I cannot read this invoice.",
		"no items":       `{"invoice_date":"01.01.2026","items":[]}`,
		"missing name":   `{"items":[{"quantity":1}]}`,
		"negative qty":   `{"items":[{"name":"Краска","quantity":-1}]}`,
		"negative price": `{"items":[{"name":"Краска","quantity":1,"price":-3}]}`,
		"bad number":     `{"items":[{"name":"Краска","quantity":"1,5"}]}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse(text, fixedNow)
			require.ErrorIs(t, err, ErrExtractionFailed)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	require.Equal(t, "05.02.2026", NormalizeDate("05.02.2026", fixedNow))
	require.Equal(t, "05.02.2026", NormalizeDate("2026-02-05", fixedNow))
	require.Equal(t, "05.02.2026", NormalizeDate("05/02/2026", fixedNow))
	require.Equal(t, "05.02.2026", NormalizeDate("5.2.2026", fixedNow))
	require.Equal(t, "14.03.2026", NormalizeDate("", fixedNow))
	require.Equal(t, "14.03.2026", NormalizeDate("yesterday", fixedNow))
}

func TestPickModel(t *testing.T) {
	require.Equal(t, "models/gemini-2.0-flash", pickModel([]string{"models/gemini-pro", "models/gemini-2.0-flash-lite", "models/gemini-2.0-flash"}))
	require.Equal(t, "models/gemini-2.0-flash-lite", pickModel([]string{"models/gemini-pro", "models/gemini-2.0-flash-lite"}))
	require.Equal(t, "models/gemini-pro", pickModel([]string{"models/gemini-pro"}))
	require.Equal(t, DefaultFallbackModel, pickModel(nil))
}
