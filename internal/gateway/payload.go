package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/endpoint"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
)

// payload is a JSON object body kept raw so handlers can tell an absent
// member from an explicit null.
type payload map[string]json.RawMessage

func decodePayload(r *http.Request) (payload, error) {
	var p payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, apierr.New(apierr.KindEncoding, "JSON parse error - "+err.Error()).
			WithCode(apierr.CodeInvalidJSON).Wrap(err)
	}
	if p == nil {
		p = payload{}
	}
	return p, nil
}

func (p payload) has(key string) bool {
	_, ok := p[key]
	return ok
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeField returns nil for an absent or null member.
func decodeField[T any](p payload, key, what string) (*T, error) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apierr.Validation(key, "A valid "+what+" is required.").Wrap(err)
	}
	return &v, nil
}

func decodeOpt[T any](p payload, key, what string) (endpoint.Opt[T], error) {
	if !p.has(key) {
		return endpoint.Opt[T]{}, nil
	}
	v, err := decodeField[T](p, key, what)
	return endpoint.Opt[T]{Set: true, Value: v}, err
}

// fieldReader decodes members one after another and keeps the first error.
type fieldReader struct {
	p   payload
	err error
}

func (fr *fieldReader) keep(err error) {
	if fr.err == nil {
		fr.err = err
	}
}

func (fr *fieldReader) str(key string) *string {
	v, err := decodeField[string](fr.p, key, "string")
	fr.keep(err)
	return v
}

func (fr *fieldReader) integer(key string) *int {
	v, err := decodeField[int](fr.p, key, "integer")
	fr.keep(err)
	return v
}

func (fr *fieldReader) id(key string) *int64 {
	v, err := decodeField[int64](fr.p, key, "integer")
	fr.keep(err)
	return v
}

func (fr *fieldReader) boolean(key string) *bool {
	v, err := decodeField[bool](fr.p, key, "boolean")
	fr.keep(err)
	return v
}

// tags parses a tag member given as a JSON array or a JSON-encoded string.
func (fr *fieldReader) tags(key string) *tags.Collection {
	raw, ok := fr.p[key]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fr.keep(apierr.New(apierr.KindEncoding, "Invalid json list.").
			WithCode(apierr.CodeInvalidJSON).WithField(key).Wrap(err))
		return nil
	}
	c, err := tags.Parse(tags.Value(v))
	if err != nil {
		if e, ok := apierr.As(err); ok {
			e.WithField(key)
		}
		fr.keep(err)
		return nil
	}
	return &c
}

// value decodes a member into an untyped JSON value.
func (fr *fieldReader) value(key string) (any, bool) {
	raw, ok := fr.p[key]
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fr.keep(apierr.New(apierr.KindEncoding, "Invalid json.").WithCode(apierr.CodeInvalidJSON).WithField(key))
		return nil, false
	}
	return v, true
}
