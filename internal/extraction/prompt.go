package extraction

import (
	"fmt"
	"strings"
)

// BuildPrompt asks for the invoice date and the line items as a JSON object.
func BuildPrompt(categories []string) string {
	return fmt.Sprintf(`Read the attached invoice photo.
Return a JSON object with two keys:
  "invoice_date": the document date as DD.MM.YYYY, or an empty string if it is not printed;
  "items": an array of objects with keys "name", "quantity", "unit", "price", "total", "category".
Keep item names in the language of the invoice. Numbers must be JSON numbers.
"category" must be one of: %s.
Return only the JSON object.`, strings.Join(categories, ", "))
}
