package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/domain"
)

func TestCursorTokens(t *testing.T) {
	require.Empty(t, EncodeCursor(nil))

	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)

	in := &domain.Cursor{CheckInAt: time.Date(2026, 3, 2, 9, 0, 0, 123456789, time.UTC), ID: "0b5c9b0e-1111-4c3e-9c56-2f1f9a6a8f10"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.CheckInAt.Equal(out.CheckInAt))
	require.Equal(t, in.ID, out.ID)

	token := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	for _, bad := range []string{
		"%%%",
		token("no-separator"),
		token("r0:1772442000000000000:0b5c9b0e-1111-4c3e-9c56-2f1f9a6a8f10"),
		token("r1:yesterday:0b5c9b0e-1111-4c3e-9c56-2f1f9a6a8f10"),
		token("r1:1772442000000000000:rec-1"),
		token("r1:1772442000000000000"),
	} {
		_, err := DecodeCursor(bad)
		require.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
