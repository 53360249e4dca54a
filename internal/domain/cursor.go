package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor allows keyset pagination. Recent listings resume after
// (CreatedAt, ID); the other orderings resume after (Key, ID), where Key is
// the leading sort column of the last row.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Sort      string    `json:"sort,omitempty"`
	Key       float64   `json:"key,omitempty"`
}

// SortOrDefault reports the ordering the cursor was issued for.
func (c Cursor) SortOrDefault() string {
	if c.Sort == "" {
		return RecipeSortRecent
	}
	return c.Sort
}

// EncodeCursor serializes a cursor into an opaque token.
func EncodeCursor(c Cursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a cursor token.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	return &cursor, nil
}
