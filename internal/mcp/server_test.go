package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retainhq/retain/internal/models"
	"github.com/retainhq/retain/internal/normalize"
	"github.com/retainhq/retain/internal/query"
	"github.com/retainhq/retain/internal/resolver"
	"github.com/retainhq/retain/internal/review"
	"github.com/retainhq/retain/internal/sm2"
	"github.com/retainhq/retain/internal/store"
)

func newTestMCPServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "retain.db"), time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine, err := sm2.New(sm2.DefaultParams())
	require.NoError(t, err)

	mastery := models.MasteryThresholds{IntervalDays: 21, MinReps: 4}
	res := resolver.New(st, normalize.New(""), engine, resolver.DefaultConfig(), logger)
	rev := review.NewManager(st, engine, mastery, logger)
	q := query.New(st, mastery, 50, logger)
	return NewServer(res, rev, q, logger), st
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestHandleIngest(t *testing.T) {
	srv, st := newTestMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleIngest(ctx, makeReq("ingest_signal", map[string]any{
		"text":       "Red-Black Trees",
		"confidence": 0.8,
		"source":     "ocr",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "ingest returned error: %s", textContent(t, result))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, true, out["accepted"])
	id, ok := out["item_id"].(string)
	require.True(t, ok)

	item, err := st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "red-black trees", item.CanonicalKey)
}

func TestHandleIngest_Rejection(t *testing.T) {
	srv, _ := newTestMCPServer(t)

	result, err := srv.HandleIngest(context.Background(), makeReq("ingest_signal", map[string]any{
		"text":       "valid concept",
		"confidence": 0.1,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "a rejected signal is a normal outcome")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, false, out["accepted"])
	assert.NotEmpty(t, out["reason"])
}

func TestHandleIngest_MissingText(t *testing.T) {
	srv, _ := newTestMCPServer(t)

	result, err := srv.HandleIngest(context.Background(), makeReq("ingest_signal", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleReview(t *testing.T) {
	srv, st := newTestMCPServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	engine, err := sm2.New(sm2.DefaultParams())
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, &models.Item{
		ID:           "id-1",
		Kind:         models.KindConcept,
		Label:        "graphs",
		CanonicalKey: "graphs",
		FirstSeen:    now,
		LastSeen:     now,
		SM2:          engine.InitialState(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	result, err := srv.HandleReview(ctx, makeReq("review", map[string]any{
		"item_id": "id-1",
		"quality": 5,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "review returned error: %s", textContent(t, result))

	var out review.Result
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, 1, out.Item.SM2.Repetitions)
	assert.Equal(t, 1.0, out.Item.SM2.Interval)
}

func TestHandleReview_Errors(t *testing.T) {
	srv, _ := newTestMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleReview(ctx, makeReq("review", map[string]any{
		"item_id": "ghost",
		"quality": 4,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "not found")

	result, err = srv.HandleReview(ctx, makeReq("review", map[string]any{
		"item_id": "ghost",
		"quality": 9,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "quality")
}

func TestHandleDueAndStats(t *testing.T) {
	srv, _ := newTestMCPServer(t)
	ctx := context.Background()

	ingest, err := srv.HandleIngest(ctx, makeReq("ingest_signal", map[string]any{
		"text":       "hash tables",
		"confidence": 0.9,
	}))
	require.NoError(t, err)
	require.False(t, ingest.IsError)

	due, err := srv.HandleDue(ctx, makeReq("due", map[string]any{}))
	require.NoError(t, err)
	require.False(t, due.IsError)

	var dueOut struct {
		Items []models.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, due)), &dueOut))
	assert.Len(t, dueOut.Items, 1)

	stats, err := srv.HandleStats(ctx, makeReq("stats", nil))
	require.NoError(t, err)
	require.False(t, stats.IsError)

	var statsOut models.CollectionStats
	require.NoError(t, json.Unmarshal([]byte(textContent(t, stats)), &statsOut))
	assert.Equal(t, int64(1), statsOut.Total)
	assert.Equal(t, int64(1), statsOut.DueToday)
}
