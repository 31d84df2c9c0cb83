package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/lineage"
)

// Dialect identifies SQL backend of lineage tables
type Dialect string

const (
	// DialectSQLite uses modernc.org/sqlite
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres uses pgx through database/sql
	DialectPostgres Dialect = "postgres"
)

var sqlOpen = sql.Open

var schema = []string{
	`CREATE TABLE IF NOT EXISTS lineage_frames (
		position TEXT NOT NULL,
		frame_index INTEGER NOT NULL,
		cells INTEGER NOT NULL,
		PRIMARY KEY (position, frame_index)
	)`,
	`CREATE TABLE IF NOT EXISTS lineage_records (
		position TEXT NOT NULL,
		frame_index INTEGER NOT NULL,
		cell_id INTEGER NOT NULL,
		cycle_stage TEXT NOT NULL,
		cycles_count INTEGER NOT NULL,
		relative_id INTEGER NOT NULL,
		relationship TEXT NOT NULL,
		emergence_frame INTEGER NOT NULL,
		division_frame INTEGER NOT NULL,
		discard BOOLEAN NOT NULL,
		PRIMARY KEY (position, frame_index, cell_id)
	)`,
	`CREATE TABLE IF NOT EXISTS position_state (
		position TEXT NOT NULL PRIMARY KEY,
		next_free_id INTEGER NOT NULL
	)`,
}

// SQL mirrors lineage tables of one position into a relational database.
// Label frames are not stored: SaveFrame keeps only the lineage table
type SQL struct {
	db       *sql.DB
	dialect  Dialect
	position string
}

// OpenSQL connects to database and ensures schema exists
func OpenSQL(ctx context.Context, dialect Dialect, dsn, position string) (*SQL, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, errors.Errorf("unknown SQL dialect %q", dialect)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("SQL DSN required")
	}
	if position == "" {
		return nil, errors.New("position required")
	}
	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s database", dialect)
	}
	if dialect == DialectSQLite {
		// single writer avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "can't connect to %s database", dialect)
	}
	s := &SQL{db: db, dialect: dialect, position: position}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database connections
func (s *SQL) Close() error {
	return s.db.Close()
}

// DB exposes underlying handle
func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "can't apply lineage schema")
		}
	}
	return nil
}

// rebind converts ? placeholders into $n for postgres
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveFrame replaces lineage table of frame t
func (s *SQL) SaveFrame(ctx context.Context, t int, _ labels.Image, tbl lineage.Table) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteFrames(ctx, tx, "frame_index = ?", t); err != nil {
			return err
		}
		return s.insertTable(ctx, tx, t, tbl)
	})
}

// SaveLineage replaces every stored table of the position
func (s *SQL) SaveLineage(ctx context.Context, tl lineage.Timeline) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteFrames(ctx, tx, "1 = 1"); err != nil {
			return err
		}
		for t, tbl := range tl {
			if tbl == nil {
				continue
			}
			if err := s.insertTable(ctx, tx, t, tbl); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveNextFreeID upserts next free CellID of the position
func (s *SQL) SaveNextFreeID(ctx context.Context, next int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO position_state (position, next_free_id) VALUES (?, ?)
		ON CONFLICT (position) DO UPDATE SET next_free_id = excluded.next_free_id`), s.position, next)
	return errors.Wrap(err, "can't store next free ID")
}

// LoadNextFreeID reads next free CellID. Zero is returned when nothing was stored yet
func (s *SQL) LoadNextFreeID(ctx context.Context) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT next_free_id FROM position_state WHERE position = ?`), s.position).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return next, errors.Wrap(err, "can't read next free ID")
}

// LoadTimeline reads stored tables. Frames missing in the database are unset
func (s *SQL) LoadTimeline(ctx context.Context) (lineage.Timeline, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT frame_index FROM lineage_frames WHERE position = ? ORDER BY frame_index`), s.position)
	if err != nil {
		return nil, errors.Wrap(err, "can't query lineage frames")
	}
	tl := make(lineage.Timeline, 0)
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "can't scan lineage frame")
		}
		for len(tl) <= t {
			tl = append(tl, nil)
		}
		tl[t] = make(lineage.Table)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "can't iterate lineage frames")
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, s.rebind(`SELECT frame_index, cell_id, cycle_stage, cycles_count,
		relative_id, relationship, emergence_frame, division_frame, discard
		FROM lineage_records WHERE position = ? ORDER BY frame_index, cell_id`), s.position)
	if err != nil {
		return nil, errors.Wrap(err, "can't query lineage records")
	}
	defer rows.Close()
	for rows.Next() {
		var t, id int
		var stage, rel string
		var rec lineage.Record
		if err := rows.Scan(&t, &id, &stage, &rec.CyclesCount, &rec.RelativeID, &rel,
			&rec.EmergenceFrame, &rec.DivisionFrame, &rec.Discard); err != nil {
			return nil, errors.Wrap(err, "can't scan lineage record")
		}
		if !tl.IsSet(t) {
			return nil, errors.Errorf("record of cell %d belongs to unknown frame %d", id, t)
		}
		if rec.Stage, err = lineage.ParseStage(stage); err != nil {
			return nil, err
		}
		if rec.Relationship, err = lineage.ParseRelationship(rel); err != nil {
			return nil, err
		}
		tl[t][id] = rec
	}
	return tl, errors.Wrap(rows.Err(), "can't iterate lineage records")
}

func (s *SQL) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "can't commit transaction")
}

func (s *SQL) deleteFrames(ctx context.Context, tx *sql.Tx, cond string, args ...any) error {
	args = append([]any{s.position}, args...)
	for _, table := range []string{"lineage_records", "lineage_frames"} {
		query := s.rebind("DELETE FROM " + table + " WHERE position = ? AND " + cond)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "can't clear %s", table)
		}
	}
	return nil
}

func (s *SQL) insertTable(ctx context.Context, tx *sql.Tx, t int, tbl lineage.Table) error {
	_, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO lineage_frames (position, frame_index, cells) VALUES (?, ?, ?)`),
		s.position, t, len(tbl))
	if err != nil {
		return errors.Wrapf(err, "can't insert lineage frame %d", t)
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO lineage_records (position, frame_index, cell_id,
		cycle_stage, cycles_count, relative_id, relationship, emergence_frame, division_frame, discard)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return errors.Wrap(err, "can't prepare lineage insert")
	}
	defer stmt.Close()
	for _, id := range tbl.IDs() {
		rec := tbl[id]
		_, err := stmt.ExecContext(ctx, s.position, t, id, rec.Stage.String(), rec.CyclesCount,
			rec.RelativeID, rec.Relationship.String(), rec.EmergenceFrame, rec.DivisionFrame, rec.Discard)
		if err != nil {
			return errors.Wrapf(err, "can't insert record of cell %d at frame %d", id, t)
		}
	}
	return nil
}
