package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"fleetsync/internal/logger"
)

// ChangeKind classifies an externally observed row change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ChangeEvent is a row-level change reported by an external feed (push or
// poll, the transport does not matter here).
type ChangeEvent struct {
	Resource string          `json:"resource"`
	Kind     ChangeKind      `json:"kind"`
	Record   json.RawMessage `json:"record"`
}

// ApplyRemoteChange folds an external change into the cached snapshot for the
// resource, keyed by the record id. The cache stays a snapshot: if no
// snapshot exists yet, only inserts create one.
func (c *Coordinator) ApplyRemoteChange(ctx context.Context, ev ChangeEvent) error {
	if ev.Resource == "" {
		return fmt.Errorf("change event is missing resource")
	}

	entry, err := c.store.CacheGet(ctx, ev.Resource)
	if err != nil {
		return err
	}

	var rows []map[string]any
	if entry != nil {
		if err := json.Unmarshal(entry.Value, &rows); err != nil {
			return fmt.Errorf("cached snapshot for %s is not a record list: %w", ev.Resource, err)
		}
	}

	var record map[string]any
	if len(ev.Record) > 0 {
		if err := json.Unmarshal(ev.Record, &record); err != nil {
			return fmt.Errorf("invalid change record: %w", err)
		}
	}
	if record == nil {
		return fmt.Errorf("change event is missing record")
	}

	id, err := idToString(record["id"])
	if err != nil {
		return fmt.Errorf("change record for %s: %w", ev.Resource, err)
	}

	switch ev.Kind {
	case ChangeInsert:
		rows = upsertRow(rows, id, record, false)
	case ChangeUpdate:
		rows = upsertRow(rows, id, record, true)
	case ChangeDelete:
		rows = deleteRow(rows, id)
	default:
		return fmt.Errorf("unknown change kind: %s", ev.Kind)
	}

	if err := c.store.CacheSet(ctx, ev.Resource, rows); err != nil {
		return err
	}

	logger.Log.Debug("Applied remote change to cache",
		zap.String("resource", ev.Resource),
		zap.String("kind", string(ev.Kind)),
		zap.String("id", id),
	)
	return nil
}

// upsertRow replaces the row with a matching id, or appends. When merge is
// set, incoming fields patch the existing row instead of replacing it.
func upsertRow(rows []map[string]any, id string, record map[string]any, merge bool) []map[string]any {
	for i, row := range rows {
		rowID, err := idToString(row["id"])
		if err != nil || rowID != id {
			continue
		}
		if merge {
			for k, v := range record {
				row[k] = v
			}
			rows[i] = row
		} else {
			rows[i] = record
		}
		return rows
	}
	return append(rows, record)
}

func deleteRow(rows []map[string]any, id string) []map[string]any {
	out := rows[:0]
	for _, row := range rows {
		rowID, err := idToString(row["id"])
		if err == nil && rowID == id {
			continue
		}
		out = append(out, row)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out
}
