// Package catalog holds the closed material category set, the service-row denylist
// and the seed list of construction objects.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Category is one of the fixed material categories.
type Category string

const (
	CategoryTools       Category = "Tools"
	CategoryDryMixes    Category = "Dry Mixes"
	CategoryPaint       Category = "Paint"
	CategoryPlumbing    Category = "Plumbing"
	CategoryElectrical  Category = "Electrical"
	CategoryWorkwear    Category = "Workwear"
	CategoryFasteners   Category = "Fasteners"
	CategoryDrywall     Category = "Drywall"
	CategoryConsumables Category = "Consumables"
	CategoryOther       Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryTools,
	CategoryDryMixes,
	CategoryPaint,
	CategoryPlumbing,
	CategoryElectrical,
	CategoryWorkwear,
	CategoryFasteners,
	CategoryDrywall,
	CategoryConsumables,
	CategoryOther,
}

// Names returns the category names as plain strings.
func Names() []string {
	out := make([]string, len(Categories))
	for i, c := range Categories {
		out[i] = string(c)
	}
	return out
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

//go:embed default.yaml
var defaultCatalog []byte

// ErrUnknownCategory is returned when a catalog file names a category outside the set.
var ErrUnknownCategory = errors.New("catalog: unknown category")

type fileFormat struct {
	Categories   map[string][]string `yaml:"categories"`
	ServiceTerms []string            `yaml:"service_terms"`
	Objects      []string            `yaml:"objects"`
}

// Catalog normalises extracted values. It is immutable after construction.
type Catalog struct {
	lookup       map[string]Category
	serviceTerms []string
	objects      []string
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default: %v", err))
	}
	return c
}

// Load reads a YAML catalog from path. An empty path yields the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	c := &Catalog{lookup: make(map[string]Category)}
	for _, cat := range Categories {
		c.lookup[fold(string(cat))] = cat
	}
	for name, aliases := range raw.Categories {
		cat := Category(name)
		if !cat.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
		}
		for _, alias := range aliases {
			if key := fold(alias); key != "" {
				c.lookup[key] = cat
			}
		}
	}
	for _, term := range raw.ServiceTerms {
		if key := fold(term); key != "" {
			c.serviceTerms = append(c.serviceTerms, key)
		}
	}
	for _, obj := range raw.Objects {
		if obj = strings.TrimSpace(obj); obj != "" {
			c.objects = append(c.objects, obj)
		}
	}
	return c, nil
}

// NormalizeCategory coerces raw into the closed set; unknown values become Other.
func (c *Catalog) NormalizeCategory(raw string) Category {
	if cat, ok := c.lookup[fold(raw)]; ok {
		return cat
	}
	return CategoryOther
}

// NormalizeUnit trims and lower-cases a unit label.
func (c *Catalog) NormalizeUnit(raw string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(raw))
}

// IsServiceRow reports whether name contains one of the denylisted service terms.
func (c *Catalog) IsServiceRow(name string) bool {
	folded := fold(name)
	if folded == "" {
		return false
	}
	for _, term := range c.serviceTerms {
		if strings.Contains(folded, term) {
			return true
		}
	}
	return false
}

// SeedObjects returns the default construction object names.
func (c *Catalog) SeedObjects() []string {
	out := make([]string, len(c.objects))
	copy(out, c.objects)
	return out
}

// FilterServiceRows drops items whose name is a service row, keeping order.
func FilterServiceRows[T any](c *Catalog, items []T, name func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if c.IsServiceRow(name(item)) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// fold uses a fresh Caser per call; Casers are not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
