package telemetry

import (
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UI element attribute keys set on interaction spans.
const (
	AttrUIElementID       = attribute.Key("ui.element.id")
	AttrUIElementName     = attribute.Key("ui.element.name")
	AttrUIElementTag      = attribute.Key("ui.element.tag")
	AttrUIElementDataName = attribute.Key("ui.element.data_name")
)

// DataNameAttribute is the element attribute that names a control explicitly.
const DataNameAttribute = "data-otel-name"

const (
	anonymousElement = "anonymous"
	absentAttribute  = "none"
	maxTextRunes     = 15
)

// identifierExtractor returns an element identifier, "" when it has none.
type identifierExtractor func(Element) string

// identifierExtractors are tried in order; the first non-empty result wins.
var identifierExtractors = []identifierExtractor{
	attributeExtractor(DataNameAttribute),
	attributeExtractor("id"),
	attributeExtractor("name"),
	attributeExtractor("aria-label"),
	textExtractor(maxTextRunes),
}

func attributeExtractor(name string) identifierExtractor {
	return func(el Element) string {
		return strings.TrimSpace(el.Attribute(name))
	}
}

// textExtractor trims before counting, so the indentation of rendered
// markup never uses up the limit.
func textExtractor(limit int) identifierExtractor {
	return func(el Element) string {
		text := strings.TrimSpace(el.Text())
		if utf8.RuneCountInString(text) <= limit {
			return text
		}
		return string([]rune(text)[:limit])
	}
}

// ElementIdentifier returns the display identifier of el.
func ElementIdentifier(el Element) string {
	for _, extract := range identifierExtractors {
		if id := extract(el); id != "" {
			return id
		}
	}
	return anonymousElement
}

// InteractionSpanName returns "UI Click: <tag> identifier" for el.
func InteractionSpanName(el Element) string {
	return "UI Click: <" + el.TagName() + "> " + ElementIdentifier(el)
}

// EnrichInteractionSpan renames span after el and attaches its element
// attributes. It only relabels; a nil span or element is left untouched.
func EnrichInteractionSpan(span trace.Span, el Element) {
	if span == nil || el == nil {
		return
	}
	span.SetName(InteractionSpanName(el))
	span.SetAttributes(
		AttrUIElementID.String(orNone(el.Attribute("id"))),
		AttrUIElementName.String(orNone(el.Attribute("name"))),
		AttrUIElementTag.String(orNone(el.TagName())),
		AttrUIElementDataName.String(orNone(el.Attribute(DataNameAttribute))),
	)
}

func orNone(s string) string {
	if s == "" {
		return absentAttribute
	}
	return s
}
