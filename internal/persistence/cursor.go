// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/attendance/internal/domain"
)

// ErrInvalidCursor is returned for page tokens this package did not produce.
var ErrInvalidCursor = errors.New("persistence: invalid cursor")

const cursorVersion = "r1"

// EncodeCursor turns the position of the last record on a page into an opaque
// token. A nil cursor, meaning there is no further page, encodes as "".
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := cursorVersion + ":" + strconv.FormatInt(c.CheckInAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. Blank tokens start from the newest record.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	version, rest, ok := strings.Cut(string(decoded), ":")
	if !ok || version != cursorVersion {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	// Record ids are uuids; the postgres query casts the id to uuid.
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{CheckInAt: time.Unix(0, ts).UTC(), ID: id}, nil
}
