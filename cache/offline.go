package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
	_ "modernc.org/sqlite"
)

// OfflineStore is a durable write-through mirror of raw entities keyed by
// (table, entity id), backed by a local SQLite file so it survives restarts.
// It is only read when the data service is unreachable and no Redis snapshot
// can serve the request.
type OfflineStore struct {
	db *sql.DB
}

// NewOfflineStore opens (and if needed initializes) the mirror at path. The
// caller owns Close.
func NewOfflineStore(path string) (*OfflineStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open offline store")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			tbl      TEXT NOT NULL,
			id       TEXT NOT NULL,
			payload  BLOB NOT NULL,
			saved_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tbl, id)
		)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize offline store")
	}

	return &OfflineStore{db: db}, nil
}

func (s *OfflineStore) Close() error {
	return s.db.Close()
}

// SaveAll upserts entities into the mirror. Each entity must be JSON
// encodable and is stored whole; partial updates are never written so a read
// back always yields a complete row.
func (s *OfflineStore) SaveAll(ctx context.Context, table string, ids []string, entities []interface{}) error {
	if len(ids) != len(entities) {
		return errors.New("ids and entities length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin offline store write")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (tbl, id, payload, saved_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tbl, id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`)
	if err != nil {
		return errors.Wrap(err, "prepare offline store write")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range ids {
		payload, err := json.Marshal(entities[i])
		if err != nil {
			return errors.Wrapf(err, "fail to encode entity %s/%s", table, ids[i])
		}
		if _, err := stmt.ExecContext(ctx, table, ids[i], payload, now); err != nil {
			return errors.Wrapf(err, "fail to write entity %s/%s", table, ids[i])
		}
	}

	return tx.Commit()
}

// GetAll returns every stored payload for the table, most recently saved
// first.
func (s *OfflineStore) GetAll(ctx context.Context, table string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM entities WHERE tbl = ? ORDER BY saved_at DESC`, table)
	if err != nil {
		return nil, errors.Wrap(err, "read offline store")
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan offline store row")
		}
		out = append(out, json.RawMessage(payload))
	}
	return out, rows.Err()
}

// SavePosts is the typed write-through path the engine uses after every
// successful page merge.
func (s *OfflineStore) SavePosts(ctx context.Context, posts []*model.Post) error {
	ids := make([]string, 0, len(posts))
	entities := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.Id)
		entities = append(entities, p)
	}
	return s.SaveAll(ctx, model.TablePosts, ids, entities)
}

// GetPosts decodes every mirrored post, newest write first.
func (s *OfflineStore) GetPosts(ctx context.Context) ([]*model.Post, error) {
	raws, err := s.GetAll(ctx, model.TablePosts)
	if err != nil {
		return nil, err
	}
	posts := make([]*model.Post, 0, len(raws))
	for _, raw := range raws {
		var p model.Post
		if err := json.Unmarshal(raw, &p); err != nil {
			// Skip a corrupt row instead of failing the whole offline read,
			// this path is already the last resort.
			continue
		}
		posts = append(posts, &p)
	}
	return posts, nil
}
