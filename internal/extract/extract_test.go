package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/travelcrawl/internal/types"
)

const offersPage = `<!doctype html><html><body>
<div class="owl-carousel">
  <div class="owl-item">
    <h3 class="offer-header">
      Cancún   Riviera Maya
    </h3>
    <span class="offer-price-amount"> 899 € </span>
    <span class="counters-night">7 noches</span>
  </div>
  <div class="owl-item">
    <h3 class="offer-header">Punta Cana</h3>
    <span class="offer-price-amount">1.099 €</span>
  </div>
</div>
<h1 class="title">  Vuelo + Hotel  </h1>
<a class="tc-tooltip" href="/aerolineas/iberia" data-code="IB">Iberia</a>
</body></html>`

func strPtr(s string) *string { return &s }

func TestExtractRepeatingWithPlaceholder(t *testing.T) {
	doc, err := Parse(offersPage)
	require.NoError(t, err)

	schema := Schema{
		Placeholder: strPtr("No disponible"),
		Fields: []Field{
			{Name: "offers", Selector: ".owl-item", Repeat: true, Fields: []Field{
				{Name: "title", Selector: ".offer-header"},
				{Name: "price", Selector: ".offer-price-amount"},
				{Name: "rating", Selector: ".counters-night"},
			}},
		},
	}
	require.NoError(t, schema.Validate())

	rec := Extract(doc, schema)
	v, ok := rec.Get("offers")
	require.True(t, ok)
	offers, ok := v.([]types.Record)
	require.True(t, ok)
	require.Len(t, offers, 2)

	title, _ := offers[0].Get("title")
	assert.Equal(t, "Cancún Riviera Maya", title)
	price, _ := offers[0].Get("price")
	assert.Equal(t, "899 €", price)

	rating, _ := offers[1].Get("rating")
	assert.Equal(t, "No disponible", rating, "missing field must resolve to the placeholder")
}

func TestExtractMissingFieldIsNullWithoutPlaceholder(t *testing.T) {
	doc, err := Parse(offersPage)
	require.NoError(t, err)

	rec := Extract(doc, Schema{Fields: []Field{
		{Name: "title", Selector: ".title"},
		{Name: "description", Selector: ".description"},
		{Name: "compania", Selector: ".tc-tooltip"},
		{Name: "code", Selector: ".tc-tooltip", Attr: "data-code"},
		{Name: "missingAttr", Selector: ".tc-tooltip", Attr: "data-none"},
	}})

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Vuelo + Hotel","description":null,"compania":"Iberia","code":"IB","missingAttr":null}`, string(out))

	// Field order follows the schema.
	names := make([]string, 0, rec.Len())
	for _, f := range rec.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"title", "description", "compania", "code", "missingAttr"}, names)
}

func TestExtractRepeatingNoMatchIsEmptyList(t *testing.T) {
	doc, err := Parse(`<html><body><p>nothing</p></body></html>`)
	require.NoError(t, err)

	rec := Extract(doc, Schema{Fields: []Field{
		{Name: "legs", Selector: ".flight-leg", Repeat: true, Fields: []Field{{Name: "from", Selector: ".from"}}},
	}})
	v, _ := rec.Get("legs")
	assert.Empty(t, v)
	assert.Equal(t, 0, rec.Compact().Len())
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"bad selector", Schema{Fields: []Field{{Name: "x", Selector: "div[["}}}},
		{"empty name", Schema{Fields: []Field{{Selector: "div"}}}},
		{"duplicate", Schema{Fields: []Field{{Name: "x", Selector: "a"}, {Name: "x", Selector: "b"}}}},
		{"repeat without fields", Schema{Fields: []Field{{Name: "x", Selector: "a", Repeat: true}}}},
		{"nested bad selector", Schema{Fields: []Field{{Name: "x", Selector: "a", Repeat: true,
			Fields: []Field{{Name: "y", Selector: ":nope("}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.schema.Validate())
		})
	}
}
