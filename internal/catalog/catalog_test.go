package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCategory(t *testing.T) {
	c := Default()

	cases := map[string]Category{
		"Tools":       CategoryTools,
		"  paint ":    CategoryPaint,
		"DRY MIXES":   CategoryDryMixes,
		"Инструмент":  CategoryTools,
		"сухие смеси": CategoryDryMixes,
		"Крепеж":      CategoryFasteners,
		"Гипсокартон": CategoryDrywall,
		"Разное":      CategoryOther,
		"Food":        CategoryOther,
		"":            CategoryOther,
	}
	for raw, want := range cases {
		assert.Equal(t, want, c.NormalizeCategory(raw), "raw=%q", raw)
	}
}

func TestNormalizeUnit(t *testing.T) {
	c := Default()
	assert.Equal(t, "шт", c.NormalizeUnit("  ШТ "))
	assert.Equal(t, "kg", c.NormalizeUnit("KG"))
	assert.Equal(t, "", c.NormalizeUnit("   "))
}

func TestServiceRowFilter(t *testing.T) {
	c := Default()
	type item struct{ name string }

	got := FilterServiceRows(c, []item{{name: "Доставка"}, {name: "Цемент"}}, func(i item) string { return i.name })
	require.Len(t, got, 1)
	assert.Equal(t, "Цемент", got[0].name)

	assert.True(t, c.IsServiceRow("Услуга разгрузки"))
	assert.True(t, c.IsServiceRow("DELIVERY to site"))
	assert.True(t, c.IsServiceRow("Service Fee"))
	assert.False(t, c.IsServiceRow("Шпаклевка"))
	assert.False(t, c.IsServiceRow(""))
}

func TestSeedObjectsReturnsCopy(t *testing.T) {
	c := Default()
	objs := c.SeedObjects()
	require.NotEmpty(t, objs)
	objs[0] = "mutated"
	assert.NotEqual(t, "mutated", c.SeedObjects()[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte("categories:\n  Paint: [Эмаль]\nservice_terms: [монтаж]\nobjects: [Школа]\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CategoryPaint, c.NormalizeCategory("эмаль"))
	assert.Equal(t, CategoryTools, c.NormalizeCategory("tools"))
	assert.True(t, c.IsServiceRow("Монтаж двери"))
	assert.False(t, c.IsServiceRow("Доставка"))
	assert.Equal(t, []string{"Школа"}, c.SeedObjects())
}

func TestParseRejectsUnknownCategory(t *testing.T) {
	_, err := Parse([]byte("categories:\n  Food: [bread]\n"))
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.IsServiceRow("перевозка"))
}
