// Package extraction talks to the hosted multimodal model that reads invoice photos.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DateLayout is the invoice date layout handed to the staging table.
const DateLayout = "02.01.2006"

var (
	// ErrExtractionFailed covers bad images, malformed model output and transport errors.
	ErrExtractionFailed = errors.New("extraction: failed")
	// ErrExtractionTimeout indicates the uploaded file never left the processing state.
	ErrExtractionTimeout = fmt.Errorf("%w: timed out waiting for uploaded file", ErrExtractionFailed)
	// ErrUnsupportedImage indicates an upload that is not a JPEG or PNG image.
	ErrUnsupportedImage = fmt.Errorf("%w: unsupported image, expected JPEG or PNG", ErrExtractionFailed)
)

// Item is one line as reported by the model.
type Item struct {
	Name     string          `json:"name" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
	Category string          `json:"category"`
}

// Result is the structured content of one invoice.
type Result struct {
	InvoiceDate string `json:"invoice_date"`
	Items       []Item `json:"items" validate:"required,min=1,dive"`
}

var validate = validator.New()

var fenceStripper = strings.NewReplacer("```json", "", "```JSON", "", "```", "")

// ParseResponse decodes the model's text answer. Markdown code fences are tolerated;
// anything else that is not a valid result fails the whole upload.
func ParseResponse(text string, now time.Time) (Result, error) {
	body := strings.TrimSpace(fenceStripper.Replace(text))
	if body == "" {
		return Result{}, fmt.Errorf("%w: empty model response", ErrExtractionFailed)
	}
	var res Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return Result{}, fmt.Errorf("%w: decode model response: %v", ErrExtractionFailed, err)
	}
	if err := validate.Struct(res); err != nil {
		return Result{}, fmt.Errorf("%w: invalid model response: %v", ErrExtractionFailed, err)
	}
	for i, it := range res.Items {
		if it.Quantity.IsNegative() || it.Price.IsNegative() || it.Total.IsNegative() {
			return Result{}, fmt.Errorf("%w: item %d %q has negative amounts", ErrExtractionFailed, i, it.Name)
		}
	}
	res.InvoiceDate = NormalizeDate(res.InvoiceDate, now)
	return res, nil
}

var dateLayouts = []string{DateLayout, "2006-01-02", "02/01/2006", "02-01-2006", "2.1.2006"}

// NormalizeDate renders raw as DD.MM.YYYY, falling back to now when the model
// returned nothing usable.
func NormalizeDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DateLayout)
		}
	}
	return now.Format(DateLayout)
}
