package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whistleblower/internal/model"
)

const timeLayout = "2006-01-02T15:04:05Z"

// queries holds the dialect-specific statements of the records table.
type queries struct {
	get    string
	put    string
	delete string
	list   string
	setDM  string
}

// records implements the key/value document operations shared by the
// SQL backends.
type records struct {
	db *sql.DB
	q  queries
}

func (r *records) getDoc(ctx context.Context, key string, dst any) error {
	var doc string
	err := r.db.QueryRowContext(ctx, r.q.get, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

func (r *records) putDoc(ctx context.Context, key string, src any) error {
	doc, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	now := time.Now().UTC().Format(timeLayout)
	if _, err := r.db.ExecContext(ctx, r.q.put, key, string(doc), now); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (r *records) deleteDoc(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, r.q.delete, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// listIDs returns the keys in the given namespace with the prefix removed.
func (r *records) listIDs(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.q.list, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q records: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		ids = append(ids, key[len(prefix):])
	}
	return ids, rows.Err()
}

// GetUser returns the user record for userID or ErrNotFound.
func (r *records) GetUser(ctx context.Context, userID string) (*model.UserRecord, error) {
	var rec model.UserRecord
	if err := r.getDoc(ctx, userKey(userID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutUser stores rec under userID, replacing any previous record.
func (r *records) PutUser(ctx context.Context, userID string, rec *model.UserRecord) error {
	return r.putDoc(ctx, userKey(userID), rec)
}

// DeleteUser removes the user record. Deleting a missing record is not an error.
func (r *records) DeleteUser(ctx context.Context, userID string) error {
	return r.deleteDoc(ctx, userKey(userID))
}

// SetDMChannel rewrites the dm_channel_id field in place, leaving the rest of
// the document as stored at the time of the update.
func (r *records) SetDMChannel(ctx context.Context, userID, channelID string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx, r.q.setDM, channelID, now, userKey(userID))
	if err != nil {
		return fmt.Errorf("set dm channel of %q: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set dm channel of %q: %w", userID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserIDs returns the IDs of all stored user records.
func (r *records) ListUserIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, userPrefix)
}

// GetChannel returns the channel record for channelID or ErrNotFound.
func (r *records) GetChannel(ctx context.Context, channelID string) (*model.ChannelRecord, error) {
	var rec model.ChannelRecord
	if err := r.getDoc(ctx, channelKey(channelID), &rec); err != nil {
		return nil, err
	}
	if rec.Phrases == nil {
		rec.Phrases = make(map[string][]string)
	}
	return &rec, nil
}

// PutChannel stores rec under channelID, replacing any previous record.
func (r *records) PutChannel(ctx context.Context, channelID string, rec *model.ChannelRecord) error {
	return r.putDoc(ctx, channelKey(channelID), rec)
}

// ListChannelIDs returns the IDs of all stored channel records.
func (r *records) ListChannelIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, channelPrefix)
}
