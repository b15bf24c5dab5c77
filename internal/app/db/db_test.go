package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(r.values), len(dest))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *pgtype.UUID:
			*d = v.(pgtype.UUID)
		case *pgtype.Text:
			*d = v.(pgtype.Text)
		case *pgtype.Timestamptz:
			*d = v.(pgtype.Timestamptz)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

type fakeDB struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.lastSQL, f.lastArgs = sql, args
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.lastSQL, f.lastArgs = sql, args
	return f.row
}

func TestGetSessionRoom(t *testing.T) {
	var owner pgtype.UUID
	require.NoError(t, owner.Scan("6f1c3d9e-8b0a-4a43-9a55-0c2f6a7f1b11"))

	fake := &fakeDB{row: fakeRow{values: []any{
		"algebra", "Algebra review", pgtype.UUID{}, owner, pgtype.Timestamptz{},
	}}}

	room, err := New(fake).GetSessionRoom(context.Background(), "algebra")
	require.NoError(t, err)
	assert.Equal(t, "Algebra review", room.Name)
	assert.False(t, room.StudySessionID.Valid)
	assert.Equal(t, owner, room.CreatedBy)
	assert.Equal(t, []any{"algebra"}, fake.lastArgs)
}

func TestErrorClassifiers(t *testing.T) {
	fake := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := New(fake).GetUserByUsername(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsUniqueViolation(dup))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestUUIDConversions(t *testing.T) {
	id, err := ParseUUID("3f2a9c1e-8d1b-4f5e-9a0c-6b7d8e9f0a1b")
	require.NoError(t, err)
	assert.True(t, id.Valid)
	assert.Equal(t, "3f2a9c1e-8d1b-4f5e-9a0c-6b7d8e9f0a1b", UUIDString(id))

	_, err = ParseUUID("not-a-uuid")
	assert.Error(t, err)

	assert.Empty(t, UUIDString(pgtype.UUID{}))
	assert.False(t, Text("").Valid)
	assert.Equal(t, pgtype.Text{String: "x", Valid: true}, Text("x"))
}
