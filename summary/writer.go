// Package summary records training scalars (learning rate, loss, ...) keyed
// by optimizer step in a SQLite file under the run's log directory.
package summary

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scalars (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tag       TEXT NOT NULL,
	step      INTEGER NOT NULL,
	value     REAL,
	wall_time REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS scalars_tag_step ON scalars(tag, step);
`

// FileName is the database created inside the log directory.
const FileName = "scalars.sqlite3"

type Writer struct {
	db *sql.DB
}

// NewWriter creates logdir if needed and opens (or reuses) its database.
func NewWriter(logdir string) (*Writer, error) {
	if err := os.MkdirAll(logdir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(logdir, FileName))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Writer{db: db}, nil
}

func (w *Writer) AddScalar(tag string, value float64, step int) error {
	wall := float64(time.Now().UnixNano()) / 1e9
	_, err := w.db.Exec(`INSERT INTO scalars(tag, step, value, wall_time) VALUES(?, ?, ?, ?)`, tag, step, value, wall)
	return err
}

// Point is one stored scalar.
type Point struct {
	Step  int
	Value float64
}

// Scalars returns every value logged under tag, ordered by step.
func (w *Writer) Scalars(tag string) ([]Point, error) {
	rows, err := w.db.Query(`SELECT step, value FROM scalars WHERE tag = ? ORDER BY step, id`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var p Point
		var v sql.NullFloat64
		if err := rows.Scan(&p.Step, &v); err != nil {
			return nil, err
		}
		p.Value = v.Float64
		out = append(out, p)
	}
	return out, rows.Err()
}

func (w *Writer) Close() error { return w.db.Close() }
