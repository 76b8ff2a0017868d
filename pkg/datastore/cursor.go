package datastore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidPageToken is returned for page tokens not produced by
// EncodeCursor.
var ErrInvalidPageToken = errors.New("invalid page token")

// Cursor is a keyset position in a listing ordered by a timestamp column and
// then id, both descending.
type Cursor struct {
	At time.Time
	ID string
}

// EncodeCursor returns the page token that resumes after the row (at, id).
func EncodeCursor(at time.Time, id string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token returned by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidPageToken
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return Cursor{At: t.UTC(), ID: id}, nil
}

// After restricts q to rows strictly after c in "column DESC, id DESC"
// order. Rows sharing c's timestamp are kept when their id sorts lower.
func (c Cursor) After(q *gorm.DB, column string) *gorm.DB {
	return q.Where(
		fmt.Sprintf("((%s < ?) OR (%s = ? AND id < ?))", column, column),
		c.At, c.At, c.ID,
	)
}
