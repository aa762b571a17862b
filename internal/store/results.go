package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

// Name implements pipeline.Output.
func (s *Store) Name() string { return "store" }

// Write implements pipeline.Output.
func (s *Store) Write(ctx context.Context, doc *pipeline.Document) error {
	return s.SaveDocument(ctx, doc)
}

// SaveDocument replaces everything stored for the document. Null result
// slots are kept as failed rows so positions survive a round trip.
func (s *Store) SaveDocument(ctx context.Context, doc *pipeline.Document) (err error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return common.DBError("begin tx", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("store.rollback.failed", "doc_id", doc.ID, "error", rbErr)
			}
		}
	}()

	b := s.builder()
	for _, table := range []string{tableResults, tableDocuments} {
		q, args := b.Delete(table).Where(entsql.EQ("doc_id", doc.ID)).Query()
		if err = tx.Exec(ctx, q, args, nil); err != nil {
			return common.DBError("clear "+table, err)
		}
	}

	q, args := b.Insert(tableDocuments).
		Columns("doc_id", "source_document", "pages", "ignored_pages", "failed", "records", "created_at").
		Values(doc.ID, doc.Name, doc.Pages, doc.Ignored, doc.Failed, len(doc.Results), s.now().UTC().Format(time.RFC3339)).
		Query()
	if err = tx.Exec(ctx, q, args, nil); err != nil {
		return common.DBError("insert document", err)
	}

	if len(doc.Results) > 0 {
		ins := b.Insert(tableResults).Columns("doc_id", "idx", "status", "page", "grp", "txn_type", "data")
		for i, r := range doc.Results {
			if r == nil {
				ins.Values(doc.ID, i, string(constants.StatusFailed), nil, nil, nil, nil)
				continue
			}
			data, mErr := json.Marshal(r)
			if mErr != nil {
				err = common.WrapError(mErr, "encode result")
				return err
			}
			meta, _ := pipeline.MetaOf(r)
			ins.Values(doc.ID, i, string(constants.StatusSuccess), meta.Page, meta.Group, meta.Type, string(data))
		}
		q, args = ins.Query()
		if err = tx.Exec(ctx, q, args, nil); err != nil {
			return common.DBError("insert results", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return common.DBError("commit", err)
	}
	s.logger.Debug("store.document.saved", "doc_id", doc.ID, "records", len(doc.Results))
	return nil
}

// ListResults returns a document's result slots in order; failed slots are nil.
func (s *Store) ListResults(ctx context.Context, docID string) ([]map[string]any, error) {
	q, args := s.builder().
		Select("status", "data").
		From(entsql.Table(tableResults)).
		Where(entsql.EQ("doc_id", docID)).
		OrderBy("idx").
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, common.DBError("list results", err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var (
			status string
			data   sql.NullString
		)
		if err := rows.Scan(&status, &data); err != nil {
			return nil, common.DBError("scan result", err)
		}
		if status != string(constants.StatusSuccess) || !data.Valid {
			out = append(out, nil)
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(data.String), &obj); err != nil {
			return nil, common.WrapError(err, "decode result")
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, common.DBError("list results", err)
	}
	return out, nil
}

// GetDocument loads a stored document with its results.
func (s *Store) GetDocument(ctx context.Context, docID string) (*pipeline.Document, error) {
	q, args := s.builder().
		Select("doc_id", "source_document", "pages", "ignored_pages", "failed").
		From(entsql.Table(tableDocuments)).
		Where(entsql.EQ("doc_id", docID)).
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, common.DBError("get document", err)
	}
	doc := &pipeline.Document{}
	found := rows.Next()
	if found {
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Pages, &doc.Ignored, &doc.Failed); err != nil {
			_ = rows.Close()
			return nil, common.DBError("scan document", err)
		}
	}
	rowsErr := rows.Err()
	// Release the connection before the next query; SQLite runs with one.
	_ = rows.Close()
	if rowsErr != nil {
		return nil, common.DBError("get document", rowsErr)
	}
	if !found {
		return nil, common.WrapError(common.ErrNotFound, "document "+docID)
	}

	results, err := s.ListResults(ctx, docID)
	if err != nil {
		return nil, err
	}
	doc.Results = results
	return doc, nil
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }
