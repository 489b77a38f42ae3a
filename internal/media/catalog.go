// Package media persists the artifact catalog: every recorded clip, still
// frame and timelapse gets exactly one row referencing its path relative to
// the media root. The gallery and upload jobs are separate consumers of this
// catalog and are not part of this package.
package media

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fbirkner/nestcam/internal/persistence/sqlite"
)

const schemaVersion = 1

// Catalog is the SQLite-backed artifact catalog.
type Catalog struct {
	DB *sql.DB
}

// Video is one recorded clip row.
type Video struct {
	ID         int64
	Path       string // relative to the media root
	CreatedAt  time.Time
	DurationS  int
	Resolution string
	SizeBytes  int64
	Notes      string
}

// Photo is one still-frame row.
type Photo struct {
	ID         int64
	Path       string
	CreatedAt  time.Time
	Resolution string
}

// Timelapse is one assembled timelapse row.
type Timelapse struct {
	ID        int64
	Path      string
	FromDate  time.Time
	ToDate    time.Time
	FPS       int
	CreatedAt time.Time
}

// NewCatalog opens (and migrates) the catalog at dbPath.
func NewCatalog(dbPath string) (*Catalog, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	c := &Catalog{DB: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("media catalog: migration failed: %w", err)
	}
	return c, nil
}

// NewCatalogWithDB wraps an existing connection (tests, shared DB files).
func NewCatalogWithDB(db *sql.DB) (*Catalog, error) {
	c := &Catalog{DB: db}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("media catalog: migration failed: %w", err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	var currentVersion int
	if err := c.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL,
		duration_s INTEGER,
		resolution TEXT,
		size_bytes INTEGER,
		notes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_videos_created ON videos(created_at);

	CREATE TABLE IF NOT EXISTS photos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolution TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_photos_created ON photos(created_at);

	CREATE TABLE IF NOT EXISTS timelapses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		fps INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// AddVideo inserts a clip row and returns its ID.
func (c *Catalog) AddVideo(ctx context.Context, v Video) (int64, error) {
	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := c.DB.ExecContext(ctx, `
		INSERT INTO videos (path, created_at, duration_s, resolution, size_bytes, notes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.Path, created.Format(time.RFC3339), v.DurationS, v.Resolution, v.SizeBytes, v.Notes)
	if err != nil {
		return 0, fmt.Errorf("media catalog: insert video: %w", err)
	}
	return res.LastInsertId()
}

// AddPhoto inserts a still-frame row and returns its ID.
func (c *Catalog) AddPhoto(ctx context.Context, p Photo) (int64, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := c.DB.ExecContext(ctx, `
		INSERT INTO photos (path, created_at, resolution) VALUES (?, ?, ?)
	`, p.Path, created.Format(time.RFC3339), p.Resolution)
	if err != nil {
		return 0, fmt.Errorf("media catalog: insert photo: %w", err)
	}
	return res.LastInsertId()
}

// AddTimelapse inserts a timelapse row and returns its ID.
func (c *Catalog) AddTimelapse(ctx context.Context, t Timelapse) (int64, error) {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := c.DB.ExecContext(ctx, `
		INSERT INTO timelapses (path, from_date, to_date, fps, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.Path, t.FromDate.Format("2006-01-02"), t.ToDate.Format("2006-01-02"), t.FPS, created.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("media catalog: insert timelapse: %w", err)
	}
	return res.LastInsertId()
}

// PhotosBetween lists photo paths created within [from, to], oldest first.
// Used by the timelapse assembler.
func (c *Catalog) PhotosBetween(ctx context.Context, from, to time.Time) ([]Photo, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT id, path, created_at, COALESCE(resolution, '')
		FROM photos
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC
	`, from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("media catalog: photos between: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var photos []Photo
	for rows.Next() {
		var p Photo
		var created string
		if err := rows.Scan(&p.ID, &p.Path, &created, &p.Resolution); err != nil {
			return nil, fmt.Errorf("media catalog: scan photo: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.DB.Close()
}
