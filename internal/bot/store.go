package bot

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coderally/coderally/internal/db"
)

// ErrNotFound is returned when a bot id does not exist.
var ErrNotFound = errors.New("bot not found")

// Record is one saved bot program.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	ClassName string    `json:"class_name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists bot programs in sqlite.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create saves a new bot program and returns the stored record.
func (s *Store) Create(ownerID, name, className, code string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		ClassName: className,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO bots (id, owner_id, name, class_name, code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Name, rec.ClassName, rec.Code, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bot: %w", err)
	}
	return rec, nil
}

// Get returns one bot by id.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, name, class_name, code, created_at, updated_at
		FROM bots WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bot: %w", err)
	}
	return rec, nil
}

// ListByOwner returns all bots owned by ownerID, newest first.
func (s *Store) ListByOwner(ownerID string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, name, class_name, code, created_at, updated_at
		FROM bots WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Update replaces a bot's program and metadata.
func (s *Store) Update(id, name, className, code string) (*Record, error) {
	result, err := s.db.Exec(`
		UPDATE bots SET name = ?, class_name = ?, code = ?, updated_at = ?
		WHERE id = ?`,
		name, className, code, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update bot: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// Delete removes a bot.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	if err := s.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.ClassName, &rec.Code, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
