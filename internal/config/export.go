// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/opserr"
)

// exportDoc is the on-disk shape of a config export. Keys are sorted by
// the JSON encoder, so identical effective config produces identical bytes.
type exportDoc struct {
	Version int                    `json:"version"`
	Entries map[string]StoredValue `json:"entries"`
}

const exportVersion = 1

// ExportJSON renders the export document. Encrypted values stay
// ciphertext; an export never leaks plaintext secrets.
func (s *Settings) ExportJSON(ctx context.Context) ([]byte, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	doc := exportDoc{Version: exportVersion, Entries: all}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, "config.export", "encode config")
	}
	return append(data, '\n'), nil
}

// DefaultExportJSON renders an export document carrying every registry
// default. configgen writes it as the first-run config.json; importing it
// into a fresh store is a no-op beyond making the defaults explicit.
func DefaultExportJSON() ([]byte, error) {
	reg, err := GetRegistry()
	if err != nil {
		return nil, err
	}

	entries := make(map[string]StoredValue, len(reg.Keys()))
	for _, key := range reg.Keys() {
		d, _ := reg.Lookup(key)
		entries[key] = StoredValue{Value: d.Default}
	}

	doc := exportDoc{Version: exportVersion, Entries: entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, "config.export", "encode defaults")
	}
	return append(data, '\n'), nil
}

// Export writes the export document to path atomically.
func (s *Settings) Export(ctx context.Context, path string) error {
	data, err := s.ExportJSON(ctx)
	if err != nil {
		return err
	}

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return opserr.Wrap(err, opserr.KindIO, "config.export", "create pending config file")
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger := log.WithComponent("config")
			logger.Debug().Err(err).Msg("cleanup pending config file")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return opserr.Wrap(err, opserr.KindIO, "config.export", "write config export")
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return opserr.Wrap(err, opserr.KindIO, "config.export", "commit config export")
	}
	return nil
}

// Import loads a config export from a file.
func (s *Settings) Import(ctx context.Context, path string, overwrite bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return opserr.Wrap(err, opserr.KindIO, "config.import", "read config export")
	}
	return s.ImportJSON(ctx, data, overwrite)
}

// ImportJSON applies an export document. With overwrite, every entry
// replaces the stored row (ciphertext entries land byte-identical, keeping
// the export, import, export round trip stable). Without overwrite only
// missing keys are added.
func (s *Settings) ImportJSON(ctx context.Context, data []byte, overwrite bool) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return opserr.Wrap(err, opserr.KindValidation, "config.import", "decode config export")
	}
	if doc.Version != exportVersion {
		return opserr.Newf(opserr.KindValidation, "config.import",
			"unsupported export version %d (want %d)", doc.Version, exportVersion)
	}

	// Only rows actually persisted count as existing; a key still riding
	// its registry default is fair game for a non-overwrite import.
	stored, err := s.storedKeys(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(doc.Entries))
	for k := range doc.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	imported := 0
	for _, key := range keys {
		if !overwrite && stored[key] {
			continue
		}
		if err := s.SetStored(ctx, key, doc.Entries[key]); err != nil {
			return fmt.Errorf("import key %s: %w", key, err)
		}
		imported++
	}

	logger := log.WithComponent("config")
	logger.Info().
		Int("imported", imported).
		Int("total", len(doc.Entries)).
		Bool("overwrite", overwrite).
		Msg("config import applied")
	return nil
}

func (s *Settings) storedKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM so_configs`)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, "config.import", "query stored keys")
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, opserr.Wrap(err, opserr.KindInternal, "config.import", "scan stored key")
		}
		out[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, "config.import", "iterate stored keys")
	}
	return out, nil
}
