// Package reqresp converts between the client list-of-pairs form of captured
// HTTP evidence and the stored capture records of a finding.
package reqresp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Pair is one captured request and the response it produced.
type Pair struct {
	Request  string `json:"request"`
	Response string `json:"response"`
}

// Record is an ordered list of captured pairs.
type Record []Pair

// Equal reports whether r and o hold the same pairs in the same order.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// String prints the record as compact JSON.
func (r Record) String() string {
	b, _ := json.Marshal(r.nonNil())
	return string(b)
}

// Indent prints the record as an indented JSON array.
func (r Record) Indent() string {
	b, _ := json.MarshalIndent(r.nonNil(), "", "  ")
	return string(b)
}

func (r Record) nonNil() Record {
	if r == nil {
		return Record{}
	}
	return r
}

// Parse validates a decoded JSON value (or a JSON string holding one).
// The first malformed element aborts the whole conversion.
func Parse(v any) (Record, error) {
	if s, ok := v.(string); ok {
		if s == "" {
			return Record{}, nil
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, apierr.New(apierr.KindEncoding, "Invalid json list.").
				WithCode(apierr.CodeInvalidJSON).Wrap(err)
		}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, apierr.Newf(apierr.KindTypeMismatch,
			"Expected a list of items but got type %q.", tags.TypeName(v)).
			WithCode(apierr.CodeNotAList)
	}
	out := make(Record, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, apierr.Newf(apierr.KindTypeMismatch,
				"Expected a dictionary of items but got type %q.", tags.TypeName(item)).
				WithCode(apierr.CodeNotADict)
		}
		req, reqOK := m["request"].(string)
		resp, respOK := m["response"].(string)
		if !reqOK || !respOK {
			return nil, apierr.New(apierr.KindTypeMismatch,
				"Expected request and response to be str.").
				WithCode(apierr.CodeNotAString)
		}
		out = append(out, Pair{Request: req, Response: resp})
	}
	return out, nil
}

// Lister loads the captures of one finding in the requested column order.
type Lister interface {
	ListCaptures(ctx context.Context, orderBy ...string) ([]models.Capture, error)
}

// Project builds the pair representation of the stored captures, ordered
// by orderBy (capture id when empty).
func Project(ctx context.Context, src Lister, orderBy ...string) (Record, error) {
	if len(orderBy) == 0 {
		orderBy = []string{"id"}
	}
	captures, err := src.ListCaptures(ctx, orderBy...)
	if err != nil {
		return nil, fmt.Errorf("loading captures: %w", err)
	}
	out := make(Record, 0, len(captures))
	for _, c := range captures {
		req, err := DecodeRequest(c)
		if err != nil {
			return nil, err
		}
		resp, err := DecodeResponse(c)
		if err != nil {
			return nil, err
		}
		out = append(out, Pair{Request: req, Response: resp})
	}
	return out, nil
}

// Encode turns a pair into a capture row for findingID.
func Encode(findingID int64, p Pair) models.Capture {
	return models.Capture{
		FindingID:      findingID,
		RequestBase64:  base64.StdEncoding.EncodeToString([]byte(p.Request)),
		ResponseBase64: base64.StdEncoding.EncodeToString([]byte(p.Response)),
	}
}

func DecodeRequest(c models.Capture) (string, error) {
	b, err := base64.StdEncoding.DecodeString(c.RequestBase64)
	if err != nil {
		return "", fmt.Errorf("capture %d request: %w", c.ID, err)
	}
	return string(b), nil
}

func DecodeResponse(c models.Capture) (string, error) {
	b, err := base64.StdEncoding.DecodeString(c.ResponseBase64)
	if err != nil {
		return "", fmt.Errorf("capture %d response: %w", c.ID, err)
	}
	return string(b), nil
}
