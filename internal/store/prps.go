package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PRP is a generated product requirement prompt.
type PRP struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PRPVersion is one historical revision of a PRP.
type PRPVersion struct {
	ID        string    `json:"id"`
	PRPID     string    `json:"prp_id"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func scanPRP(row rowScanner) (PRP, error) {
	var (
		p                PRP
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Version, &created, &updated); err != nil {
		return PRP{}, err
	}
	p.CreatedAt = parseTimestamp(created)
	p.UpdatedAt = parseTimestamp(updated)
	return p, nil
}

func (s *Store) ListPRPs() ([]PRP, error) {
	rows, err := s.db.Query(`SELECT id, title, content, version, created_at_utc, updated_at_utc
		FROM product_requirement_prompts
		ORDER BY updated_at_utc DESC, created_at_utc DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prps := make([]PRP, 0)
	for rows.Next() {
		p, err := scanPRP(rows)
		if err != nil {
			return nil, err
		}
		prps = append(prps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return prps, nil
}

func (s *Store) GetPRP(id string) (PRP, error) {
	p, err := scanPRP(s.db.QueryRow(`SELECT id, title, content, version, created_at_utc, updated_at_utc
		FROM product_requirement_prompts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PRP{}, ErrNotFound
	}
	return p, err
}

// CreatePRP stores a PRP and records it as version 1.
func (s *Store) CreatePRP(title, content string) (PRP, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return PRP{}, errors.New("prp title is required")
	}
	now, stamp := s.timestamp()
	p := PRP{ID: uuid.NewString(), Title: title, Content: content, Version: 1, CreatedAt: now, UpdatedAt: now}

	tx, err := s.db.Begin()
	if err != nil {
		return PRP{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO product_requirement_prompts (id, title, content, version, created_at_utc, updated_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)`, p.ID, p.Title, p.Content, p.Version, stamp, stamp); err != nil {
		return PRP{}, err
	}
	if err := insertVersion(tx, p, stamp); err != nil {
		return PRP{}, err
	}
	if err := tx.Commit(); err != nil {
		return PRP{}, err
	}
	return p, nil
}

// UpdatePRP replaces title and content, bumps the version and records it.
func (s *Store) UpdatePRP(id, title, content string) (PRP, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return PRP{}, errors.New("prp title is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return PRP{}, err
	}
	defer tx.Rollback()

	p, err := scanPRP(tx.QueryRow(`SELECT id, title, content, version, created_at_utc, updated_at_utc
		FROM product_requirement_prompts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PRP{}, ErrNotFound
	}
	if err != nil {
		return PRP{}, err
	}

	now, stamp := s.timestamp()
	p.Title = title
	p.Content = content
	p.Version++
	p.UpdatedAt = now

	if _, err := tx.Exec(`UPDATE product_requirement_prompts SET title=?, content=?, version=?, updated_at_utc=? WHERE id=?`,
		p.Title, p.Content, p.Version, stamp, id); err != nil {
		return PRP{}, err
	}
	if err := insertVersion(tx, p, stamp); err != nil {
		return PRP{}, err
	}
	if err := tx.Commit(); err != nil {
		return PRP{}, err
	}
	return p, nil
}

func (s *Store) DeletePRP(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM product_requirement_prompts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(res); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM prp_versions WHERE prp_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPRPVersions returns the history of a PRP, newest first.
func (s *Store) ListPRPVersions(prpID string) ([]PRPVersion, error) {
	if _, err := s.GetPRP(prpID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT id, prp_id, version_number, title, content, created_at_utc
		FROM prp_versions WHERE prp_id = ? ORDER BY version_number DESC`, prpID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make([]PRPVersion, 0)
	for rows.Next() {
		var (
			v       PRPVersion
			created string
		)
		if err := rows.Scan(&v.ID, &v.PRPID, &v.Version, &v.Title, &v.Content, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = parseTimestamp(created)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return versions, nil
}

func insertVersion(tx *sql.Tx, p PRP, stamp string) error {
	_, err := tx.Exec(`INSERT INTO prp_versions (id, prp_id, version_number, title, content, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)`, uuid.NewString(), p.ID, p.Version, p.Title, p.Content, stamp)
	return err
}
