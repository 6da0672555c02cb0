// Package mcp implements the Model Context Protocol server for retain.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/retainhq/retain/internal/query"
	"github.com/retainhq/retain/internal/resolver"
	"github.com/retainhq/retain/internal/review"
	"github.com/retainhq/retain/internal/sm2"
	"github.com/retainhq/retain/internal/store"
)

// Server wraps an MCPServer with retain dependencies.
type Server struct {
	mcp      *mcpserver.MCPServer
	resolver *resolver.Resolver
	reviews  *review.Manager
	querier  *query.Querier
	logger   *slog.Logger
}

// NewServer creates a new MCP server exposing the core operations as tools.
func NewServer(res *resolver.Resolver, rev *review.Manager, q *query.Querier, logger *slog.Logger) *Server {
	s := &Server{
		resolver: res,
		reviews:  rev,
		querier:  q,
		logger:   logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"retain",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildIngestTool(), s.handleIngest)
	mcpSrv.AddTool(buildAddCardTool(), s.handleAddCard)
	mcpSrv.AddTool(buildReviewTool(), s.handleReview)
	mcpSrv.AddTool(buildDueTool(), s.handleDue)
	mcpSrv.AddTool(buildStatsTool(), s.handleStats)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleIngest is the exported handler for the "ingest_signal" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleIngest(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleIngest(ctx, req)
}

// HandleReview is the exported handler for the "review" tool.
func (s *Server) HandleReview(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleReview(ctx, req)
}

// HandleDue is the exported handler for the "due" tool.
func (s *Server) HandleDue(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleDue(ctx, req)
}

// HandleStats is the exported handler for the "stats" tool.
func (s *Server) HandleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStats(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildIngestTool() mcpgo.Tool {
	return mcpgo.NewTool("ingest_signal",
		mcpgo.WithDescription("Feed one study-evidence signal into the concept resolver. Matching signals merge into a single tracked concept."),
		mcpgo.WithString("text",
			mcpgo.Required(),
			mcpgo.Description("The raw concept text extracted upstream"),
		),
		mcpgo.WithNumber("confidence",
			mcpgo.Description("Signal confidence 0.0-1.0 (default: 1.0)"),
		),
		mcpgo.WithString("source",
			mcpgo.Description("Provenance tag, e.g. ocr, audio, manual (default: mcp)"),
		),
	)
}

func buildAddCardTool() mcpgo.Tool {
	return mcpgo.NewTool("add_card",
		mcpgo.WithDescription("Create a flashcard with a question/answer pair. Cards bypass the resolver and are immediately reviewable."),
		mcpgo.WithString("question",
			mcpgo.Required(),
			mcpgo.Description("The question side of the card"),
		),
		mcpgo.WithString("answer",
			mcpgo.Required(),
			mcpgo.Description("The answer side of the card"),
		),
		mcpgo.WithNumber("priority",
			mcpgo.Description("Manual priority override (default: 0)"),
		),
	)
}

func buildReviewTool() mcpgo.Tool {
	return mcpgo.NewTool("review",
		mcpgo.WithDescription("Record a review outcome for an item. Quality is 0-5: below 3 counts as a failed recall."),
		mcpgo.WithString("item_id",
			mcpgo.Required(),
			mcpgo.Description("The id of the reviewed item"),
		),
		mcpgo.WithNumber("quality",
			mcpgo.Required(),
			mcpgo.Description("Recall quality score, integer 0-5"),
		),
	)
}

func buildDueTool() mcpgo.Tool {
	return mcpgo.NewTool("due",
		mcpgo.WithDescription("List items due for review, oldest overdue first."),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of items (default: configured default)"),
		),
	)
}

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("stats",
		mcpgo.WithDescription("Collection statistics: totals by status, due count, success rate, streak."),
	)
}

// --- tool handlers ---

// handleIngest routes one signal through the resolver. A rejection is a
// normal tool outcome, not a protocol error.
func (s *Server) handleIngest(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.resolver == nil {
		return mcpgo.NewToolResultError("resolver is unavailable"), nil
	}

	text := req.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return mcpgo.NewToolResultError("text is required and must not be empty"), nil
	}
	confidence := req.GetFloat("confidence", 1.0)
	source := req.GetString("source", "mcp")

	id, err := s.resolver.Resolve(ctx, text, confidence, source, time.Now().UTC())
	if err != nil {
		if isRejection(err) {
			return toolResultJSON(map[string]any{"accepted": false, "reason": err.Error()})
		}
		return mcpgo.NewToolResultErrorf("resolve failed: %s", err.Error()), nil
	}

	s.logger.Info("mcp: signal resolved", "item_id", id, "source", source)
	return toolResultJSON(map[string]any{"accepted": true, "item_id": id})
}

// handleAddCard creates a flashcard.
func (s *Server) handleAddCard(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.reviews == nil {
		return mcpgo.NewToolResultError("review manager is unavailable"), nil
	}

	question := req.GetString("question", "")
	answer := req.GetString("answer", "")
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return mcpgo.NewToolResultError("question and answer are required"), nil
	}
	priority := req.GetInt("priority", 0)

	item, err := s.reviews.AddFlashcard(ctx, uuid.NewString(), question, answer, nil, priority, time.Now().UTC())
	if err != nil {
		return mcpgo.NewToolResultErrorf("add card failed: %s", err.Error()), nil
	}

	s.logger.Info("mcp: flashcard created", "id", item.ID)
	return toolResultJSON(map[string]any{"id": item.ID, "created": true})
}

// handleReview submits a review outcome.
func (s *Server) handleReview(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.reviews == nil {
		return mcpgo.NewToolResultError("review manager is unavailable"), nil
	}

	itemID := req.GetString("item_id", "")
	if strings.TrimSpace(itemID) == "" {
		return mcpgo.NewToolResultError("item_id is required and must not be empty"), nil
	}
	quality := req.GetInt("quality", -1)

	result, err := s.reviews.Submit(ctx, itemID, sm2.Quality(quality), time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, sm2.ErrInvalidQuality):
			return mcpgo.NewToolResultErrorf("invalid quality %d: must be an integer 0-5", quality), nil
		case errors.Is(err, store.ErrNotFound):
			return mcpgo.NewToolResultErrorf("item %q not found", itemID), nil
		case errors.Is(err, store.ErrBusy):
			return mcpgo.NewToolResultError("item is busy, retry"), nil
		default:
			return mcpgo.NewToolResultErrorf("review failed: %s", err.Error()), nil
		}
	}

	return toolResultJSON(result)
}

// handleDue lists due items.
func (s *Server) handleDue(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.querier == nil {
		return mcpgo.NewToolResultError("querier is unavailable"), nil
	}

	limit := req.GetInt("limit", -1)
	items, err := s.querier.Due(ctx, time.Now().UTC(), limit)
	if err != nil {
		return mcpgo.NewToolResultErrorf("due query failed: %s", err.Error()), nil
	}

	return toolResultJSON(map[string]any{"items": items})
}

// handleStats returns collection statistics.
func (s *Server) handleStats(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.querier == nil {
		return mcpgo.NewToolResultError("querier is unavailable"), nil
	}

	stats, err := s.querier.Stats(ctx, time.Now().UTC())
	if err != nil {
		return mcpgo.NewToolResultErrorf("stats failed: %s", err.Error()), nil
	}
	return toolResultJSON(stats)
}

// isRejection reports whether err is a resolver validation rejection.
func isRejection(err error) bool {
	return errors.Is(err, resolver.ErrEmptyKey) ||
		errors.Is(err, resolver.ErrLowConfidence) ||
		errors.Is(err, resolver.ErrBadConfidence) ||
		errors.Is(err, resolver.ErrKeyLength) ||
		errors.Is(err, resolver.ErrDenylisted)
}
