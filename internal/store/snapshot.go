package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SnapshotFormatVersion is bumped when the snapshot layout changes.
const SnapshotFormatVersion = 1

const sqliteTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// DataTables lists the tables captured by a snapshot, parents before children.
var DataTables = []string{
	"users",
	"achievements",
	"progress",
	"user_achievements",
	"teacher_content",
	"admin_logs",
	"app_settings",
	"guest_daily_usage",
	"offline_queue",
	"contact_messages",
	"newsletter_subscriptions",
	"analytics_events",
}

// appendOnly tables are merged on import, never cleared.
var appendOnly = map[string]bool{"admin_logs": true}

// Row is a single exported record keyed by column name.
type Row map[string]interface{}

// Snapshot is a logical dump of every data table.
type Snapshot struct {
	FormatVersion int              `json:"format_version"`
	SchemaVersion string           `json:"schema_version"`
	ExportedAt    time.Time        `json:"exported_at"`
	Tables        map[string][]Row `json:"tables"`
}

// RowCount sums the rows across tables.
func (s *Snapshot) RowCount() int {
	total := 0
	for _, rows := range s.Tables {
		total += len(rows)
	}
	return total
}

// Encode writes the snapshot as indented JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.FormatVersion != SnapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", snap.FormatVersion)
	}
	return &snap, nil
}

// Export reads every data table that exists into a snapshot.
func (s *Store) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		FormatVersion: SnapshotFormatVersion,
		ExportedAt:    time.Now().UTC(),
		Tables:        make(map[string][]Row, len(DataTables)),
	}

	if ok, err := s.TableExists(ctx, "migrations"); err != nil {
		return nil, err
	} else if ok {
		var version *string
		if err := s.QueryOne(ctx, &version, `SELECT MAX(version) FROM migrations`); err != nil {
			return nil, fmt.Errorf("read schema version: %w", err)
		}
		if version != nil {
			snap.SchemaVersion = *version
		}
	}

	for _, table := range DataTables {
		exists, err := s.TableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		rows, err := s.exportTable(ctx, table)
		if err != nil {
			return nil, err
		}
		snap.Tables[table] = rows
	}
	return snap, nil
}

func (s *Store) exportTable(ctx context.Context, table string) ([]Row, error) {
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	result := make([]Row, 0)
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(Row, len(raw))
		for col, value := range raw {
			row[col] = normaliseValue(value)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return result, nil
}

func normaliseValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(sqliteTimeLayout)
	default:
		return v
	}
}

// ImportInto replaces the contents of every table present in snap through an
// open transaction handle, so the caller commits the restore together with
// its own writes. Tables absent from the snapshot are left untouched and the
// audit trail is merged rather than replaced.
func ImportInto(ctx context.Context, tx sqlx.ExtContext, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	exec := executor{ext: tx}
	for i := len(DataTables) - 1; i >= 0; i-- {
		table := DataTables[i]
		if _, ok := snap.Tables[table]; !ok || appendOnly[table] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, table := range DataTables {
		rows, ok := snap.Tables[table]
		if !ok {
			continue
		}
		var known []string
		if err := exec.QueryAll(ctx, &known, `SELECT name FROM pragma_table_info(?)`, table); err != nil {
			return fmt.Errorf("describe %s: %w", table, err)
		}
		allowed := make(map[string]struct{}, len(known))
		for _, col := range known {
			allowed[col] = struct{}{}
		}
		for _, row := range rows {
			if err := insertRow(ctx, tx, table, allowed, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertRow(ctx context.Context, tx sqlx.ExecerContext, table string, allowed map[string]struct{}, row Row) error {
	columns := make([]string, 0, len(row))
	for col := range row {
		if !identifierPattern.MatchString(col) {
			return fmt.Errorf("invalid column %q in %s", col, table)
		}
		if _, ok := allowed[col]; ok {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return nil
	}
	sort.Strings(columns)

	args := make([]interface{}, len(columns))
	for i, col := range columns {
		args[i] = row[col]
	}
	var stmt bytes.Buffer
	verb := "INSERT"
	if appendOnly[table] {
		verb = "INSERT OR IGNORE"
	}
	fmt.Fprintf(&stmt, "%s INTO %s (%s) VALUES (%s)", verb, table, strings.Join(columns, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
	if _, err := tx.ExecContext(ctx, stmt.String(), args...); err != nil {
		return fmt.Errorf("restore %s: %w", table, err)
	}
	return nil
}
