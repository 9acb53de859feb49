package nav

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteFingerprintStore persists calibration fingerprints in SQLite
type SQLiteFingerprintStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteFingerprintStore opens (creating if needed) the database at path
// and migrates it to the latest schema
func OpenSQLiteFingerprintStore(path string) (*SQLiteFingerprintStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteFingerprintStore{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: zap.L().Named("migrate")}

	// m is not closed: that would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Sugar().Debugf(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (s *SQLiteFingerprintStore) Add(ctx context.Context, zoneID uuid.UUID, fp Fingerprint) error {
	if fp.IsEmpty() {
		return fmt.Errorf("adding fingerprint to zone %s: fingerprint is empty", zoneID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fingerprints (id, zone_id, created_at) VALUES (?, ?, ?)`,
		id, zoneID.String(), s.now().UnixNano()); err != nil {
		return fmt.Errorf("inserting fingerprint: %w", err)
	}
	for i, m := range fp.Measurements {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO measurements (fingerprint_id, position, tag_id, rssi) VALUES (?, ?, ?, ?)`,
			id, i, int64(m.TagID), int64(m.RSSI)); err != nil {
			return fmt.Errorf("inserting measurement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fingerprint: %w", err)
	}
	return nil
}

func (s *SQLiteFingerprintStore) ByZone(ctx context.Context, zoneID uuid.UUID) ([]Fingerprint, error) {
	snap, err := s.query(ctx, `WHERE f.zone_id = ?`, zoneID.String())
	if err != nil {
		return nil, err
	}
	return snap[zoneID], nil
}

func (s *SQLiteFingerprintStore) Snapshot(ctx context.Context) (map[uuid.UUID][]Fingerprint, error) {
	return s.query(ctx, "")
}

func (s *SQLiteFingerprintStore) query(ctx context.Context, where string, args ...any) (map[uuid.UUID][]Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.zone_id, m.tag_id, m.rssi
		FROM fingerprints f
		JOIN measurements m ON m.fingerprint_id = f.id
		`+where+`
		ORDER BY f.created_at, f.rowid, m.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uuid.UUID][]Fingerprint)
	lastID := ""
	var lastZone uuid.UUID
	for rows.Next() {
		var (
			id, zone  string
			tag, rssi int64
		)
		if err := rows.Scan(&id, &zone, &tag, &rssi); err != nil {
			return nil, fmt.Errorf("scanning fingerprint row: %w", err)
		}
		if id != lastID {
			zoneID, err := uuid.Parse(zone)
			if err != nil {
				return nil, fmt.Errorf("parsing zone id %q: %w", zone, err)
			}
			out[zoneID] = append(out[zoneID], Fingerprint{})
			lastID, lastZone = id, zoneID
		}
		fps := out[lastZone]
		cur := &fps[len(fps)-1]
		cur.Measurements = append(cur.Measurements, Measurement{TagID: TagID(tag), RSSI: RSSI(rssi)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fingerprints: %w", err)
	}
	return out, nil
}

func (s *SQLiteFingerprintStore) ClearZone(ctx context.Context, zoneID uuid.UUID) error {
	return s.delete(ctx, `WHERE zone_id = ?`, zoneID.String())
}

func (s *SQLiteFingerprintStore) Reset(ctx context.Context) error {
	return s.delete(ctx, "")
}

func (s *SQLiteFingerprintStore) delete(ctx context.Context, where string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM measurements WHERE fingerprint_id IN (SELECT id FROM fingerprints `+where+`)`, args...); err != nil {
		return fmt.Errorf("deleting measurements: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints `+where, args...); err != nil {
		return fmt.Errorf("deleting fingerprints: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteFingerprintStore) Close() error {
	return s.db.Close()
}
