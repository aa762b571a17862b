package store

import (
	"context"
	"database/sql"
	"encoding/json"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
)

// Sink returns an errsys.Sink that appends events to the events table.
func (s *Store) Sink() errsys.Sink {
	return errsys.SinkFunc(s.AppendEvent)
}

// AppendEvent stores one event. Events are append-only.
func (s *Store) AppendEvent(ctx context.Context, ev errsys.Event) error {
	var meta any
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return common.WrapError(err, "encode event meta")
		}
		meta = string(b)
	}
	q, args := s.builder().Insert(tableEvents).
		Columns("id", "seq", "ts", "level", "code", "stage", "doc_id", "file", "page", "record_id", "grp", "txn_type", "message", "meta").
		Values(uuid.NewString(), s.seq.Add(1), ev.TS, string(ev.Level), ev.Code, ev.Stage, ev.DocID, ev.File,
			nullInt(ev.Page), nullString(ev.RecordID), nullString(ev.Group), nullString(ev.TxnType), ev.Message, meta).
		Query()
	if err := s.drv.Exec(ctx, q, args, nil); err != nil {
		return common.DBError("insert event", err)
	}
	return nil
}

// ListEvents returns a document's events in emission order.
func (s *Store) ListEvents(ctx context.Context, docID string) ([]errsys.Event, error) {
	q, args := s.builder().
		Select("ts", "level", "code", "stage", "doc_id", "file", "page", "record_id", "grp", "txn_type", "message", "meta").
		From(entsql.Table(tableEvents)).
		Where(entsql.EQ("doc_id", docID)).
		OrderBy("seq").
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, common.DBError("list events", err)
	}
	defer rows.Close()

	var out []errsys.Event
	for rows.Next() {
		var (
			ev                        errsys.Event
			level                     string
			page                      sql.NullInt64
			recordID, group, txn, raw sql.NullString
		)
		if err := rows.Scan(&ev.TS, &level, &ev.Code, &ev.Stage, &ev.DocID, &ev.File, &page, &recordID, &group, &txn, &ev.Message, &raw); err != nil {
			return nil, common.DBError("scan event", err)
		}
		ev.Level = errsys.Level(level)
		ev.Page = intPtr(page)
		ev.RecordID = stringPtr(recordID)
		ev.Group = stringPtr(group)
		ev.TxnType = stringPtr(txn)
		ev.Meta = map[string]any{}
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &ev.Meta); err != nil {
				return nil, common.WrapError(err, "decode event meta")
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, common.DBError("list events", err)
	}
	return out, nil
}
