package view

import (
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/sitestock/internal/shared"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderLogin(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	err = engine.Render(rr, "pages/login.html", TemplateData{
		Title:     "Sign in",
		CSRFToken: "tok",
		Flash:     &shared.FlashMessage{Kind: "error", Message: "Wrong password."},
		Data:      map[string]any{"Next": "/", "Errors": map[string]string{}},
	})
	require.NoError(t, err)
	assert.Contains(t, rr.Body.String(), `name="csrf_token" value="tok"`)
	assert.Contains(t, rr.Body.String(), "Wrong password.")
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
}

func TestNilEngine(t *testing.T) {
	var engine *Engine
	assert.Error(t, engine.Render(httptest.NewRecorder(), "pages/login.html", TemplateData{}))
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "2.5", formatDecimal(decimal.RequireFromString("2.5000")))
	assert.Equal(t, "10", formatDecimal(decimal.NewFromInt(10)))
}
