package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riskwise/console/internal/platform/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBatchInsert(t *testing.T) {
	id := uuid.New()
	events := []Event{
		{
			ID:        id,
			ContextID: "ctx-1",
			UserID:    "u-admin",
			Email:     "admin@riskwise.com",
			Action:    "admin.user.created",
			Metadata:  map[string]any{"target": "u-new"},
			Source:    "console",
		},
		{
			ContextID: "ctx-2",
			Email:     "nobody@riskwise.com",
			Action:    "session.login_failed",
		},
	}

	sql, args, err := buildBatchInsert(events)
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO audit_events")
	assert.Contains(t, sql, "($1, $2, $3, $4, $5, $6, $7, $8)")
	assert.Contains(t, sql, "($9, $10, $11, $12, $13, $14, $15, $16)")
	// 8 params per event x 2 events
	assert.Len(t, args, 16)
	assert.Equal(t, id, args[0])
	assert.JSONEq(t, `{"target":"u-new"}`, string(args[5].([]byte)))

	// second event gets a fresh id, default source and no metadata
	assert.NotEqual(t, uuid.Nil, args[8])
	assert.Nil(t, args[13])
	assert.Equal(t, SourceConsole, args[14])
}

func TestBuildBatchInsert_BadMetadata(t *testing.T) {
	_, _, err := buildBatchInsert([]Event{{Action: "x", Metadata: map[string]any{"ch": make(chan int)}}})
	require.Error(t, err)
}

func TestInsertBatch_Empty(t *testing.T) {
	store := NewStore()
	err := store.InsertBatch(context.Background(), nil, nil)
	require.NoError(t, err)
}

func TestBuildListQuery_NoFilters(t *testing.T) {
	sql, args := buildListQuery(ListEventsParams{Limit: 50})
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "LIMIT $1")
	assert.Equal(t, []any{50}, args)
}

func TestBuildListQuery_AllFilters(t *testing.T) {
	action := "access.denied"
	userID := "u-analyst"
	contextID := "ctx-1"
	source := "console"
	after := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	sql, args := buildListQuery(ListEventsParams{
		Action:    &action,
		UserID:    &userID,
		ContextID: &contextID,
		Source:    &source,
		After:     &after,
		Before:    &before,
		Limit:     100,
	})
	assert.Contains(t, sql, "WHERE action = $1")
	assert.Contains(t, sql, "user_id = $2")
	assert.Contains(t, sql, "context_id = $3")
	assert.Contains(t, sql, "source = $4")
	assert.Contains(t, sql, "created_at > $5")
	assert.Contains(t, sql, "created_at < $6")
	assert.Contains(t, sql, "LIMIT $7")
	assert.Len(t, args, 7)
}

func TestBuildListQuery_PartialFilters(t *testing.T) {
	action := "session.logout"
	sql, args := buildListQuery(ListEventsParams{Action: &action, Limit: 50})
	assert.Contains(t, sql, "action = $1")
	assert.Contains(t, sql, "LIMIT $2")
	assert.Len(t, args, 2)
}

func TestStore_Postgres(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	ctx := context.Background()
	store := NewStore()

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.InsertBatch(ctx, pool, []Event{
		{ContextID: "ctx-1", UserID: "u-admin", Email: "admin@riskwise.com", Action: "session.login", CreatedAt: base.Add(-2 * time.Minute)},
		{ContextID: "ctx-1", UserID: "u-admin", Email: "admin@riskwise.com", Action: "admin.settings.updated",
			Metadata: map[string]any{"keys": []any{"theme"}}, CreatedAt: base.Add(-time.Minute)},
		{ContextID: "ctx-2", Email: "x@riskwise.com", Action: "session.login_failed", CreatedAt: base},
	}))

	all, err := store.List(ctx, pool, ListEventsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "session.login_failed", all[0].Action)
	assert.Equal(t, "session.login", all[2].Action)
	assert.Equal(t, map[string]any{"keys": []any{"theme"}}, all[1].Metadata)
	assert.Equal(t, SourceConsole, all[1].Source)

	ctxID := "ctx-1"
	mine, err := store.List(ctx, pool, ListEventsParams{ContextID: &ctxID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "admin.settings.updated", mine[0].Action)
}
