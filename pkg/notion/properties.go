package notion

import (
	"strings"

	"github.com/jomei/notionapi"
)

// PlainText returns the trimmed text of a title or rich text property.
func PlainText(props notionapi.Properties, name string) string {
	var parts []notionapi.RichText
	switch p := props[name].(type) {
	case *notionapi.TitleProperty:
		parts = p.Title
	case *notionapi.RichTextProperty:
		parts = p.RichText
	default:
		return ""
	}
	var sb strings.Builder
	for _, rt := range parts {
		// Values built locally carry only Text; API responses fill PlainText.
		if rt.PlainText == "" && rt.Text != nil {
			sb.WriteString(rt.Text.Content)
			continue
		}
		sb.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

// SelectName returns the selected option of a select property.
func SelectName(props notionapi.Properties, name string) string {
	if p, ok := props[name].(*notionapi.SelectProperty); ok {
		return p.Select.Name
	}
	return ""
}

// MultiSelectNames returns the selected options of a multi-select property.
func MultiSelectNames(props notionapi.Properties, name string) []string {
	p, ok := props[name].(*notionapi.MultiSelectProperty)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.MultiSelect))
	for _, o := range p.MultiSelect {
		out = append(out, o.Name)
	}
	return out
}

// Checkbox returns the value of a checkbox property.
func Checkbox(props notionapi.Properties, name string) bool {
	p, ok := props[name].(*notionapi.CheckboxProperty)
	return ok && p.Checkbox
}

// Number returns the value of a number property and whether it was set.
func Number(props notionapi.Properties, name string) (float64, bool) {
	p, ok := props[name].(*notionapi.NumberProperty)
	if !ok {
		return 0, false
	}
	return p.Number, true
}

// Title builds a title property value.
func Title(text string) *notionapi.TitleProperty {
	return &notionapi.TitleProperty{Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: text}}}}
}

// RichText builds a rich text property value.
func RichText(text string) *notionapi.RichTextProperty {
	return &notionapi.RichTextProperty{RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: text}}}}
}

// Select builds a select property value.
func Select(name string) *notionapi.SelectProperty {
	return &notionapi.SelectProperty{Select: notionapi.Option{Name: name}}
}

// MultiSelect builds a multi-select property value.
func MultiSelect(names ...string) *notionapi.MultiSelectProperty {
	opts := make([]notionapi.Option, 0, len(names))
	for _, n := range names {
		opts = append(opts, notionapi.Option{Name: n})
	}
	return &notionapi.MultiSelectProperty{MultiSelect: opts}
}

// CheckboxValue builds a checkbox property value.
func CheckboxValue(v bool) *notionapi.CheckboxProperty {
	return &notionapi.CheckboxProperty{Checkbox: v}
}

// NumberValue builds a number property value.
func NumberValue(v float64) *notionapi.NumberProperty {
	return &notionapi.NumberProperty{Number: v}
}
