// Package tags converts client tag input into the canonical ordered tag
// collection stored against every tagged entity, and back.
package tags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
)

// Collection is an ordered list of tag names. Duplicates are kept.
type Collection []string

// String returns the canonical wire form.
func (c Collection) String() string { return Render(c) }

// Input is the client-supplied tag value. Exactly one variant is set; build
// it with JSONText or Value.
type Input struct {
	text    string
	isText  bool
	decoded any
}

// JSONText wraps a tag list submitted in string form, e.g. `["a","b"]`.
// The empty string means an empty list.
func JSONText(s string) Input { return Input{text: s, isText: true} }

// Value wraps an already-decoded JSON value, e.g. the "tags" member of a
// request body after json.Unmarshal into map[string]any.
func Value(v any) Input {
	if s, ok := v.(string); ok {
		return JSONText(s)
	}
	return Input{decoded: v}
}

// List wraps a plain list of names.
func List(names []string) Input {
	items := make([]any, len(names))
	for i, n := range names {
		items[i] = n
	}
	return Input{decoded: items}
}

// Parse validates in and returns the accepted tags in order.
// The whole conversion fails on the first offending element.
func Parse(in Input) (Collection, error) {
	v := in.decoded
	if in.isText {
		if in.text == "" {
			return Collection{}, nil
		}
		if err := json.Unmarshal([]byte(in.text), &v); err != nil {
			return nil, apierr.New(apierr.KindEncoding,
				"Invalid json list. A tag list submitted in string form must be valid json.").
				WithCode(apierr.CodeInvalidJSON).Wrap(err)
		}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, apierr.Newf(apierr.KindTypeMismatch,
			"Expected a list of items but got type %q.", TypeName(v)).
			WithCode(apierr.CodeNotAList)
	}
	out := make(Collection, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, apierr.New(apierr.KindTypeMismatch, "All list items must be of string type.").
				WithCode(apierr.CodeNotAString)
		}
		out = append(out, s)
	}
	// Normalise through the wire form so the result is what storage will hold.
	return Split(Render(out)), nil
}

// TypeName names the JSON type of a decoded value for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Render joins tags into the canonical string. Names containing a comma,
// a space or a double quote are quoted, with inner quotes doubled.
func Render(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, `, "`) {
			t = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, ", ")
}

// Split parses a rendered tag string. Without an unquoted comma the string
// is split on spaces, so "a b" yields two tags.
func Split(s string) Collection {
	delim := ' '
	if hasUnquotedComma(s) {
		delim = ','
	}
	out := Collection{}
	var cur strings.Builder
	quoted, inQuotes, i := false, false, 0
	flush := func() {
		name := cur.String()
		if !quoted {
			name = strings.TrimSpace(name)
		}
		if name != "" {
			out = append(out, name)
		}
		cur.Reset()
		quoted = false
	}
	runes := []rune(s)
	for i < len(runes) {
		r := runes[i]
		switch {
		case inQuotes:
			if r == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					cur.WriteRune('"')
					i++
				} else {
					inQuotes = false
				}
			} else {
				cur.WriteRune(r)
			}
		case r == '"' && strings.TrimSpace(cur.String()) == "":
			cur.Reset()
			inQuotes, quoted = true, true
		case r == delim:
			flush()
		default:
			if !(quoted && r == ' ') {
				cur.WriteRune(r)
			}
		}
		i++
	}
	flush()
	return out
}

func hasUnquotedComma(s string) bool {
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			return true
		}
	}
	return false
}

// LiveCollection is a stored tag set that can be materialised on demand.
type LiveCollection interface {
	List(ctx context.Context) ([]string, error)
}

// Source is a stored tag value being projected for a response.
type Source struct {
	list     []string
	hasList  bool
	live     LiveCollection
	rendered *string
}

func FromList(names []string) Source   { return Source{list: names, hasList: true} }
func FromLive(c LiveCollection) Source { return Source{live: c} }
func FromRendered(s string) Source     { return Source{rendered: &s} }

// ErrConversion is returned by Extract for an empty Source.
var ErrConversion = errors.New("tags: source is not a list, live collection or rendered string")

// Extract returns the tag list held by src.
func Extract(ctx context.Context, src Source) (Collection, error) {
	switch {
	case src.hasList:
		return Collection(src.list), nil
	case src.live != nil:
		names, err := src.live.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading tags: %w", err)
		}
		return Collection(names), nil
	case src.rendered != nil:
		return Split(*src.rendered), nil
	default:
		return nil, ErrConversion
	}
}
