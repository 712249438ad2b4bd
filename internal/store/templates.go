package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultCategory = "general"

// Template is a reusable PRP skeleton.
type Template struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	WordCount     int       `json:"word_count"`
	Description   string    `json:"description"`
	IsPRPTemplate bool      `json:"is_prp_template"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewTemplate holds the fields for CreateTemplate.
type NewTemplate struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	Description   string   `json:"description"`
	IsPRPTemplate bool     `json:"is_prp_template"`
}

// TemplatePatch is a partial update; nil fields are left unchanged.
type TemplatePatch struct {
	Title         *string   `json:"title"`
	Content       *string   `json:"content"`
	Category      *string   `json:"category"`
	Tags          *[]string `json:"tags"`
	Description   *string   `json:"description"`
	IsPRPTemplate *bool     `json:"is_prp_template"`
}

const templateColumns = `id, title, content, category, tags, word_count, description, is_prp_template, created_at_utc, updated_at_utc`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (Template, error) {
	var (
		t                Template
		tags             string
		isPRP            int
		created, updated string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Content, &t.Category, &tags, &t.WordCount, &t.Description, &isPRP, &created, &updated); err != nil {
		return Template{}, err
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil || t.Tags == nil {
		t.Tags = []string{}
	}
	t.IsPRPTemplate = isPRP != 0
	t.CreatedAt = parseTimestamp(created)
	t.UpdatedAt = parseTimestamp(updated)
	return t, nil
}

func (s *Store) queryTemplates(query string, args ...any) ([]Template, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make([]Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

// ListTemplates returns templates by title; prpOnly restricts to PRP templates.
func (s *Store) ListTemplates(prpOnly bool) ([]Template, error) {
	if prpOnly {
		return s.queryTemplates(`SELECT ` + templateColumns + ` FROM templates WHERE is_prp_template = 1 ORDER BY title COLLATE NOCASE`)
	}
	return s.queryTemplates(`SELECT ` + templateColumns + ` FROM templates ORDER BY title COLLATE NOCASE`)
}

// SearchTemplates matches query against title, content and description.
func (s *Store) SearchTemplates(query string) ([]Template, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListTemplates(false)
	}
	pattern := "%" + query + "%"
	return s.queryTemplates(`SELECT `+templateColumns+` FROM templates
		WHERE title LIKE ? OR content LIKE ? OR description LIKE ?
		ORDER BY title COLLATE NOCASE`, pattern, pattern, pattern)
}

func (s *Store) GetTemplate(id string) (Template, error) {
	t, err := scanTemplate(s.db.QueryRow(`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	return t, err
}

func (s *Store) CreateTemplate(in NewTemplate) (Template, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Template{}, errors.New("template title is required")
	}
	now, stamp := s.timestamp()
	t := Template{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(in.Title),
		Content:       in.Content,
		Category:      strings.TrimSpace(in.Category),
		Tags:          in.Tags,
		WordCount:     wordCount(in.Content),
		Description:   strings.TrimSpace(in.Description),
		IsPRPTemplate: in.IsPRPTemplate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Category == "" {
		t.Category = defaultCategory
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return Template{}, err
	}

	_, err = s.db.Exec(`INSERT INTO templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Content, t.Category, string(tags), t.WordCount, t.Description, boolInt(t.IsPRPTemplate), stamp, stamp)
	if err != nil {
		return Template{}, err
	}
	return t, nil
}

// UpdateTemplate applies patch and returns the updated template.
func (s *Store) UpdateTemplate(id string, patch TemplatePatch) (Template, error) {
	t, err := s.GetTemplate(id)
	if err != nil {
		return Template{}, err
	}
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Content != nil {
		t.Content = *patch.Content
		t.WordCount = wordCount(t.Content)
	}
	if patch.Category != nil {
		t.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.Tags != nil {
		t.Tags = *patch.Tags
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.IsPRPTemplate != nil {
		t.IsPRPTemplate = *patch.IsPRPTemplate
	}
	if t.Title == "" {
		return Template{}, errors.New("template title is required")
	}
	if t.Category == "" {
		t.Category = defaultCategory
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return Template{}, err
	}

	now, stamp := s.timestamp()
	res, err := s.db.Exec(`UPDATE templates
		SET title=?, content=?, category=?, tags=?, word_count=?, description=?, is_prp_template=?, updated_at_utc=?
		WHERE id=?`,
		t.Title, t.Content, t.Category, string(tags), t.WordCount, t.Description, boolInt(t.IsPRPTemplate), stamp, id)
	if err != nil {
		return Template{}, err
	}
	if err := checkAffected(res); err != nil {
		return Template{}, err
	}
	t.UpdatedAt = now
	return t, nil
}

func (s *Store) DeleteTemplate(id string) error {
	res, err := s.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func wordCount(content string) int {
	return len(strings.Fields(content))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
