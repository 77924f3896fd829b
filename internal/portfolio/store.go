// Package portfolio is a small demo upstream for the masonry engine: a
// SQLite-backed project catalog served over a paginated REST API.
//
// The listing endpoint can report pagination in every shape the data
// source understands, so each metadata derivation path can be exercised
// end to end.
package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/matzehuels/masonry/pkg/feed"
)

// Project is one catalog entry.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Height      float64   `json:"height"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// Open creates a Store backed by the SQLite database at dbPath and runs
// migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			image_url TEXT,
			height REAL NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS project_tags (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			PRIMARY KEY (project_id, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_tags_tag ON project_tags(tag)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateProject inserts p. An empty ID is replaced by a new UUID and a
// zero CreatedAt by the current time.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	tags, _ := json.Marshal(p.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, image_url, height, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.Description, p.ImageURL, p.Height, string(tags), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for _, tag := range p.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO project_tags (project_id, tag) VALUES (?, ?)`, p.ID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return tx.Commit()
}

// GetProject returns a project by ID, or nil if it does not exist.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, image_url, height, tags, created_at
		FROM projects WHERE id = ?
	`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProjects returns up to limit projects after skipping offset, in
// insertion order. A non-empty tag restricts the listing.
func (s *Store) ListProjects(ctx context.Context, offset, limit int, tag string) ([]Project, error) {
	var rows *sql.Rows
	var err error

	if tag != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT p.id, p.title, p.description, p.image_url, p.height, p.tags, p.created_at
			FROM projects p JOIN project_tags t ON t.project_id = p.id
			WHERE t.tag = ? ORDER BY p.seq LIMIT ? OFFSET ?
		`, tag, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, title, description, image_url, height, tags, created_at
			FROM projects ORDER BY seq LIMIT ? OFFSET ?
		`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// CountProjects returns the number of projects, optionally with tag.
func (s *Store) CountProjects(ctx context.Context, tag string) (int, error) {
	var n int
	var err error
	if tag != "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_tags WHERE tag = ?`, tag).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	}
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	var p Project
	var description, imageURL sql.NullString
	var tags string
	if err := row.Scan(&p.ID, &p.Title, &description, &imageURL, &p.Height, &tags, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.ImageURL = imageURL.String
	json.Unmarshal([]byte(tags), &p.Tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

var (
	seedTags   = []string{"go", "design", "infra", "data", "web", "cli"}
	seedTitles = []string{"Atlas", "Beacon", "Cinder", "Drift", "Ember", "Fable", "Grove", "Harbor", "Iris", "Juniper"}
)

// Seed inserts n generated projects. The same seed always produces the
// same titles, heights and tags.
func (s *Store) Seed(ctx context.Context, n int, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		title := fmt.Sprintf("%s %d", seedTitles[i%len(seedTitles)], i+1)
		p := &Project{
			Title:       title,
			Description: fmt.Sprintf("Demo project #%d", i+1),
			ImageURL:    fmt.Sprintf("https://picsum.photos/seed/%d/400/%d", i+1, 200+rng.IntN(5)*60),
			Height:      float64(160 + rng.IntN(8)*40),
			Tags:        []string{seedTags[rng.IntN(len(seedTags))]},
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.CreateProject(ctx, p); err != nil {
			return fmt.Errorf("seed project %d: %w", i+1, err)
		}
	}
	return nil
}

// Fetch implements [feed.Provider] directly on top of the store, so the
// engine can lay the catalog out without going through HTTP. The only
// supported filter is "tag".
func (s *Store) Fetch(ctx context.Context, req feed.Request) (*feed.Response, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = feed.DefaultPageSize
	}
	page := max(req.Page, 1)
	tag := req.Filters["tag"]

	projects, err := s.ListProjects(ctx, (page-1)*limit, limit, tag)
	if err != nil {
		return nil, err
	}
	total, err := s.CountProjects(ctx, tag)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(projects))
	for i, p := range projects {
		items[i] = p.toMap()
	}
	return &feed.Response{Items: items, Total: &total}, nil
}

func (p Project) toMap() map[string]any {
	tags := make([]any, len(p.Tags))
	for i, t := range p.Tags {
		tags[i] = t
	}
	return map[string]any{
		"id":          p.ID,
		"title":       p.Title,
		"description": p.Description,
		"imageUrl":    p.ImageURL,
		"height":      p.Height,
		"tags":        tags,
		"createdAt":   p.CreatedAt.Format(time.RFC3339),
	}
}

var _ feed.Provider = (*Store)(nil)
