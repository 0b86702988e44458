package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/reqresp"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Captures is the stored request/response list of one finding.
type Captures struct {
	s         *Store
	findingID int64
}

var _ reqresp.Lister = Captures{}

func (s *Store) Captures(findingID int64) Captures {
	return Captures{s: s, findingID: findingID}
}

var captureOrder = map[string]string{
	"id":  "id",
	"-id": "id DESC",
}

func (c Captures) ListCaptures(ctx context.Context, orderBy ...string) ([]models.Capture, error) {
	order := make([]string, 0, len(orderBy))
	for _, o := range orderBy {
		col, ok := captureOrder[o]
		if !ok {
			return nil, fmt.Errorf("unsupported capture ordering %q", o)
		}
		order = append(order, col)
	}
	if len(order) == 0 {
		order = append(order, "id")
	}
	var out []models.Capture
	if err := c.s.db.Select(ctx, &out,
		"SELECT id, finding_id, request_base64, response_base64 FROM request_responses WHERE finding_id = ? ORDER BY "+
			strings.Join(order, ", "), c.findingID); err != nil {
		return nil, fmt.Errorf("listing captures of finding %d: %w", c.findingID, err)
	}
	return out, nil
}

// Add stores pairs after the existing captures.
func (c Captures) Add(ctx context.Context, pairs reqresp.Record) error {
	for _, p := range pairs {
		if _, err := c.s.db.Insert(ctx, "request_responses", reqresp.Encode(c.findingID, p)); err != nil {
			return fmt.Errorf("storing capture of finding %d: %w", c.findingID, err)
		}
	}
	return nil
}

// --- notes ---

const noteColumns = `id, finding_id, entry, author, private, edited, editor, edit_time, created_at`

func (s *Store) ListNotes(ctx context.Context, findingID int64) ([]models.Note, error) {
	var out []models.Note
	if err := s.db.Select(ctx, &out,
		"SELECT "+noteColumns+" FROM notes WHERE finding_id = ? ORDER BY id", findingID); err != nil {
		return nil, fmt.Errorf("listing notes of finding %d: %w", findingID, err)
	}
	return out, nil
}

func (s *Store) GetNote(ctx context.Context, findingID, noteID int64) (models.Note, error) {
	var n models.Note
	if err := s.db.Get(ctx, &n,
		"SELECT "+noteColumns+" FROM notes WHERE id = ? AND finding_id = ?", noteID, findingID); err != nil {
		return n, notFound(err, "Note", noteID)
	}
	return n, nil
}

func (s *Store) AddNote(ctx context.Context, n models.Note) (models.Note, error) {
	n.ID = 0
	if n.CreatedAt == "" {
		n.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	id, err := s.db.Insert(ctx, "notes", n)
	if err != nil {
		return n, fmt.Errorf("inserting note: %w", err)
	}
	n.ID = id
	return n, nil
}

// EditNote replaces the entry and marks the note edited by editor.
func (s *Store) EditNote(ctx context.Context, n models.Note, entry, editor string) (models.Note, error) {
	ts := time.Now().UTC().Format(time.RFC3339)
	n.Entry, n.Edited, n.Editor, n.EditTime = entry, true, editor, &ts
	if err := s.db.Update(ctx, "notes", n, "id = ?", n.ID); err != nil {
		return n, fmt.Errorf("saving note %d: %w", n.ID, err)
	}
	return n, nil
}

// --- languages ---

func (s *Store) ListLanguages(ctx context.Context, productID int64) ([]models.Language, error) {
	var out []models.Language
	if err := s.db.Select(ctx, &out,
		`SELECT id, product_id, language, files, blank, comment, code, created_at
		 FROM languages WHERE product_id = ? ORDER BY code DESC, language`, productID); err != nil {
		return nil, fmt.Errorf("listing languages of product %d: %w", productID, err)
	}
	return out, nil
}

// ReplaceLanguages swaps the language breakdown of a product.
func (s *Store) ReplaceLanguages(ctx context.Context, productID int64, langs []models.Language) error {
	return s.db.InTx(ctx, func(q database.Querier) error {
		if err := q.Exec(ctx, "DELETE FROM languages WHERE product_id = ?", productID); err != nil {
			return fmt.Errorf("clearing languages of product %d: %w", productID, err)
		}
		for _, l := range langs {
			l.ID, l.ProductID = 0, productID
			if _, err := q.Insert(ctx, "languages", l); err != nil {
				return fmt.Errorf("inserting language %q: %w", l.Language, err)
			}
		}
		return nil
	})
}
