package repositories

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/rowan/pkg/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		unavailable bool
	}{
		{name: "no rows", err: sql.ErrNoRows, notFound: true},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), notFound: true},
		{name: "bad connection", err: driver.ErrBadConn, unavailable: true},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, unavailable: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}},
		{name: "other", err: errors.New("syntax error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "person %d", 7)
			assert.Error(t, got)
			assert.Contains(t, got.Error(), "person 7")
			assert.Equal(t, tt.notFound, errors.Is(got, store.ErrNotFound))
			assert.Equal(t, tt.unavailable, store.IsUnavailable(got))
		})
	}

	assert.NoError(t, mapError(nil, "nothing"))
}
