package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hindsight-ai/hindsight-go/pkg/kv"
)

// ContentHash returns the content-addressable hash stored on a Document,
// used to detect identical re-ingestion of an already-upserted document.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// documentBlobPath is the FileStore path a document's original text is
// archived under when the Store has a Blobs backend configured.
func documentBlobPath(bankID, docID string) string {
	return "documents/" + bankID + "/" + docID + ".txt"
}

func (s *Store) writeDocumentBlob(ctx context.Context, bankID, docID, text string) error {
	w, err := s.blobs.Write(ctx, documentBlobPath(bankID, docID))
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, text); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *Store) readDocumentBlob(ctx context.Context, bankID, docID string) (string, error) {
	r, err := s.blobs.Read(ctx, documentBlobPath(bankID, docID))
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetDocument fetches a document by (bank, id). When a Blobs backend is
// configured, the original text is archived there rather than in the KV
// row (see PutDocument) and is read back here.
func (s *Store) GetDocument(ctx context.Context, bankID, docID string) (*Document, error) {
	raw, err := s.kv.Get(ctx, docKey(bankID, docID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", docID, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, err
	}
	var d Document
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	if s.blobs != nil && d.OriginalText == "" {
		text, err := s.readDocumentBlob(ctx, bankID, docID)
		if err != nil {
			return nil, fmt.Errorf("store: read document blob: %w", err)
		}
		d.OriginalText = text
	}
	return &d, nil
}

// ListDocuments returns every document owned by a bank.
func (s *Store) ListDocuments(ctx context.Context, bankID string) ([]*Document, error) {
	var out []*Document
	for entry, err := range s.kv.List(ctx, docPrefix(bankID)) {
		if err != nil {
			return nil, err
		}
		var d Document
		if err := decode(entry.Value, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, nil
}

// UpsertDocumentReset implements spec.md §3's upsert semantics: re-ingesting
// with the same (bank, document_id) deletes all prior units and links
// derived from the document, then (the caller, via PutDocument after
// extraction) re-ingests. This method only performs the delete-prior-
// generation half; the retain pipeline calls it before extraction and
// PutDocument after writing the new units, matching spec.md §4.6 step 1.
func (s *Store) UpsertDocumentReset(ctx context.Context, bankID, docID string) error {
	_, err := s.GetDocument(ctx, bankID, docID)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var unitIDs []string
	for entry, err := range s.kv.List(ctx, docUnitPrefix(bankID, docID)) {
		if err != nil {
			return err
		}
		unitIDs = append(unitIDs, entry.Key[len(entry.Key)-1])
	}
	if len(unitIDs) > 0 {
		if err := s.DeleteUnits(ctx, bankID, unitIDs); err != nil {
			return err
		}
	}
	return nil
}

// PutDocument creates or overwrites the document row with fresh content,
// recomputing its content hash and unit count. If the Store has a Blobs
// backend configured, the original text is archived there and the KV row
// keeps only metadata (hash, counts, timestamps); otherwise the text is
// kept inline in the row.
func (s *Store) PutDocument(ctx context.Context, bankID, docID, originalText string, unitCount int) (*Document, error) {
	now := time.Now().UTC()
	existing, err := s.GetDocument(ctx, bankID, docID)
	createdAt := now
	if err == nil {
		createdAt = existing.CreatedAt
	} else if !errors.Is(err, ErrDocumentNotFound) {
		return nil, err
	}
	rowText := originalText
	if s.blobs != nil {
		if err := s.writeDocumentBlob(ctx, bankID, docID, originalText); err != nil {
			return nil, fmt.Errorf("store: archive document blob: %w", err)
		}
		rowText = ""
	}
	d := &Document{
		ID:           docID,
		BankID:       bankID,
		OriginalText: rowText,
		ContentHash:  ContentHash(originalText),
		UnitCount:    unitCount,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
	raw, err := encode(d)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, docKey(bankID, docID), raw); err != nil {
		return nil, err
	}
	d.OriginalText = originalText
	return d, nil
}

// LinkUnitToDocument records that unitID was derived from docID, so a
// future UpsertDocumentReset can find and delete it.
func (s *Store) LinkUnitToDocument(ctx context.Context, bankID, docID, unitID string) error {
	return s.kv.Set(ctx, docUnitKey(bankID, docID, unitID), []byte{1})
}

// DeleteDocument removes a document and cascades to its derived units and
// links (spec.md §3 Invariants), including its archived text blob if one
// was written.
func (s *Store) DeleteDocument(ctx context.Context, bankID, docID string) error {
	if err := s.UpsertDocumentReset(ctx, bankID, docID); err != nil {
		return err
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, documentBlobPath(bankID, docID)); err != nil {
			return fmt.Errorf("store: delete document blob: %w", err)
		}
	}
	return s.kv.Delete(ctx, docKey(bankID, docID))
}
