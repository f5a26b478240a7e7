package devicestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/database"
)

// hashKey is the device_meta row holding the device-list content hash.
const hashKey = "devices_hash"

// Repository persists the configured device list.
//
// The bridge saves after every successful config load and reads back at
// startup when the config file is unreadable, so a corrupted or missing
// file does not take a previously working deployment down. The stored
// content hash backs reload-and-diff across restarts.
type Repository struct {
	db *database.DB
}

// NewRepository creates a device repository on an open database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// SaveDevices replaces the persisted device list and hash in one
// transaction. A partial write never survives: either the new list and its
// hash land together or the previous ones remain.
func (r *Repository) SaveDevices(ctx context.Context, devices []config.DeviceConfig, hash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("clear devices: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, dev := range devices {
		props, err := json.Marshal(dev.Properties)
		if err != nil {
			return fmt.Errorf("encode properties for %s: %w", dev.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices (id, product_key, device_name, device_secret, entity_prefix, enabled, properties, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			dev.ID, dev.ProductKey, dev.DeviceName, dev.DeviceSecret,
			dev.EntityPrefix, boolToInt(dev.Enabled), string(props), now,
		)
		if err != nil {
			return fmt.Errorf("insert device %s: %w", dev.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		hashKey, hash, now,
	)
	if err != nil {
		return fmt.Errorf("store hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LoadDevices returns the persisted device list. ErrEmpty when nothing has
// ever been saved.
func (r *Repository) LoadDevices(ctx context.Context) ([]config.DeviceConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_key, device_name, device_secret, entity_prefix, enabled, properties
		FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []config.DeviceConfig
	for rows.Next() {
		var dev config.DeviceConfig
		var enabled int
		var props string
		if err := rows.Scan(&dev.ID, &dev.ProductKey, &dev.DeviceName, &dev.DeviceSecret,
			&dev.EntityPrefix, &enabled, &props); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		dev.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(props), &dev.Properties); err != nil {
			return nil, fmt.Errorf("decode properties for %s: %w", dev.ID, err)
		}
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	if len(devices) == 0 {
		// Distinguish "never saved" from "saved an empty list".
		if _, err := r.LoadHash(ctx); errors.Is(err, ErrEmpty) {
			return nil, ErrEmpty
		} else if err != nil {
			return nil, err
		}
	}
	return devices, nil
}

// LoadHash returns the content hash stored with the last save.
func (r *Repository) LoadHash(ctx context.Context) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM device_meta WHERE key = ?`, hashKey).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("query hash: %w", err)
	}
	return hash, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
