package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
)

var cacheTables = map[models.EntityType]string{
	models.EntityProducts:          "cache_products",
	models.EntityClients:           "cache_clients",
	models.EntityCategories:        "cache_categories",
	models.EntityInventorySessions: "cache_inventory_sessions",
}

func cacheTable(key models.CollectionKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return cacheTables[key.Entity], nil
}

// ReadCollection returns the stored snapshot for key. A collection that was
// never written comes back empty with a non-nil Records slice.
func (db *DB) ReadCollection(ctx context.Context, key models.CollectionKey) (models.Snapshot, error) {
	table, err := cacheTable(key)
	if err != nil {
		return models.Snapshot{}, err
	}

	snap := models.Snapshot{Key: key, Records: []models.Record{}}

	var refreshedAt, hash string
	err = db.conn.QueryRowContext(ctx,
		`SELECT refreshed_at, hash FROM cache_meta WHERE entity = ? AND scope = ?`,
		string(key.Entity), key.Scope,
	).Scan(&refreshedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return models.Snapshot{}, faults.Storage("read cache meta", err)
	}
	if snap.RefreshedAt, err = parseTime(refreshedAt); err != nil {
		return models.Snapshot{}, faults.Storage("read cache meta", err)
	}
	if snap.Hash, err = strconv.ParseUint(hash, 10, 64); err != nil {
		return models.Snapshot{}, faults.Storage("read cache meta", fmt.Errorf("parse hash: %w", err))
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, data FROM `+table+` WHERE scope = ? ORDER BY position`, key.Scope)
	if err != nil {
		return models.Snapshot{}, faults.Storage("read "+key.String(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.Record
		var data string
		if err := rows.Scan(&rec.ID, &data); err != nil {
			return models.Snapshot{}, faults.Storage("read "+key.String(), err)
		}
		rec.Data = []byte(data)
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, faults.Storage("read "+key.String(), err)
	}
	return snap, nil
}

// WriteCollection replaces the whole collection for key in one transaction
// and returns the refresh time it recorded. Readers see either the old
// snapshot or the new one, never a mix.
func (db *DB) WriteCollection(ctx context.Context, key models.CollectionKey, records []models.Record, hash uint64) (time.Time, error) {
	table, err := cacheTable(key)
	if err != nil {
		return time.Time{}, err
	}

	now := db.now()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE scope = ?`, key.Scope); err != nil {
			return fmt.Errorf("clear: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO `+table+` (scope, position, id, data) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, rec := range records {
			if _, err := stmt.ExecContext(ctx, key.Scope, i, rec.ID, string(rec.Data)); err != nil {
				return fmt.Errorf("insert record %s: %w", rec.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cache_meta (entity, scope, refreshed_at, hash, record_count)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(entity, scope) DO UPDATE SET
				refreshed_at = excluded.refreshed_at,
				hash = excluded.hash,
				record_count = excluded.record_count`,
			string(key.Entity), key.Scope, formatTime(now), strconv.FormatUint(hash, 10), len(records))
		if err != nil {
			return fmt.Errorf("upsert meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, faults.Storage("write "+key.String(), err)
	}
	return now, nil
}

// CollectionInfo summarizes one cached collection
type CollectionInfo struct {
	Key         models.CollectionKey
	RefreshedAt time.Time
	Records     int
}

// ListCollections returns every collection that has been written, by entity then scope
func (db *DB) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT entity, scope, refreshed_at, record_count FROM cache_meta ORDER BY entity, scope`)
	if err != nil {
		return nil, faults.Storage("list collections", err)
	}
	defer rows.Close()

	var infos []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		var entity, refreshedAt string
		if err := rows.Scan(&entity, &info.Key.Scope, &refreshedAt, &info.Records); err != nil {
			return nil, faults.Storage("list collections", err)
		}
		info.Key.Entity = models.EntityType(entity)
		if info.RefreshedAt, err = parseTime(refreshedAt); err != nil {
			return nil, faults.Storage("list collections", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Storage("list collections", err)
	}
	return infos, nil
}
