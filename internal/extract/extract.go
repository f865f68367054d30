// Package extract turns a rendered document into structured records and
// same-origin links.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/go-scripts/travelcrawl/internal/types"
)

// Field maps one output key to a CSS selector. With Repeat set, Selector
// matches containers and Fields is applied to each of them.
type Field struct {
	Name     string  `yaml:"name"`
	Selector string  `yaml:"selector"`
	Attr     string  `yaml:"attr,omitempty"`
	Repeat   bool    `yaml:"repeat,omitempty"`
	Fields   []Field `yaml:"fields,omitempty"`
}

// Schema is a declarative extraction template. Placeholder is stored for any
// single-value field whose selector matches nothing; nil stores null.
type Schema struct {
	Fields      []Field `yaml:"fields"`
	Placeholder *string `yaml:"placeholder"`
}

// Validate compiles every selector so a bad template fails at load time
// instead of silently matching nothing on every page.
func (s Schema) Validate() error {
	return validateFields(s.Fields, "")
}

func validateFields(fields []Field, parent string) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := f.Name
		if parent != "" {
			path = parent + "." + f.Name
		}
		if f.Name == "" {
			return fmt.Errorf("schema: field without name under %q", parent)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: duplicate field %q", path)
		}
		seen[f.Name] = true
		if _, err := cascadia.Compile(f.Selector); err != nil {
			return fmt.Errorf("schema: field %q: invalid selector %q: %w", path, f.Selector, err)
		}
		if f.Repeat {
			if len(f.Fields) == 0 {
				return fmt.Errorf("schema: repeating field %q has no sub-fields", path)
			}
			if err := validateFields(f.Fields, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse builds a queryable document from serialized HTML.
func Parse(raw string) (*goquery.Document, error) {
	node, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(node), nil
}

// Extract applies schema to doc. Missing content never fails extraction.
func Extract(doc *goquery.Document, schema Schema) types.Record {
	return extractFields(doc.Selection, schema.Fields, schema.Placeholder)
}

func extractFields(scope *goquery.Selection, fields []Field, placeholder *string) types.Record {
	var rec types.Record
	for _, f := range fields {
		if f.Repeat {
			items := make([]types.Record, 0)
			scope.Find(f.Selector).Each(func(_ int, s *goquery.Selection) {
				items = append(items, extractFields(s, f.Fields, placeholder))
			})
			rec.Set(f.Name, items)
			continue
		}
		rec.Set(f.Name, single(scope, f, placeholder))
	}
	return rec
}

func single(scope *goquery.Selection, f Field, placeholder *string) any {
	match := scope.Find(f.Selector).First()
	if match.Length() == 0 {
		return missing(placeholder)
	}
	if f.Attr != "" {
		v, ok := match.Attr(f.Attr)
		if !ok {
			return missing(placeholder)
		}
		return strings.TrimSpace(v)
	}
	return cleanText(match.Text())
}

func missing(placeholder *string) any {
	if placeholder == nil {
		return nil
	}
	return *placeholder
}

// cleanText trims and collapses whitespace runs, approximating innerText.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
