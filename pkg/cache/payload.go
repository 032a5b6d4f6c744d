package cache

import (
	"encoding/json"
	"strings"
)

// PayloadShape classifies a candidate cache value.
type PayloadShape int

const (
	// ShapePlainText is cacheable conversational text.
	ShapePlainText PayloadShape = iota

	// ShapeStructured is a JSON object or array. The cache stores final
	// rendered responses only, so structured payloads are rejected at the
	// write boundary instead of poisoning later reads.
	ShapeStructured
)

// String returns the string representation of the shape.
func (s PayloadShape) String() string {
	switch s {
	case ShapePlainText:
		return "plain_text"
	case ShapeStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// ClassifyPayloadShape decides whether text is a plain response or a
// structured payload. Only values that actually parse as a JSON object or
// array count as structured; a sentence happening to start with a brace
// stays cacheable.
func ClassifyPayloadShape(text string) PayloadShape {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return ShapePlainText
	}

	first := trimmed[0]
	if first != '{' && first != '[' {
		return ShapePlainText
	}
	if json.Valid([]byte(trimmed)) {
		return ShapeStructured
	}
	return ShapePlainText
}
