// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes customer history tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/feetfirst/historyhub/internal/apperr"
	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/noteservice"
)

// CategoriesURI names the category guide resource.
const CategoriesURI = "historyhub://categories"

// Server wraps the MCP server with history tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all history tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"HistoryHub",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("refresh_notes",
		mcp.WithDescription("Fetch a customer's history from the FeetFirst API and rebuild the timeline. "+
			"Call this before reading dates or notes of a customer for the first time."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer ID")),
		mcp.WithString("category", mcp.Description("Optional UI category to fetch; empty or Diagramm fetches all")),
		mcp.WithNumber("page", mcp.Description("Page number, default 1")),
		mcp.WithNumber("limit", mcp.Description("Page size, default from configuration")),
	), s.refreshNotes)

	s.mcp.AddTool(mcp.NewTool("list_note_dates",
		mcp.WithDescription("List the dates (YYYY-MM-DD, ascending) that have notes, optionally for one tab."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer ID")),
		mcp.WithString("tab", mcp.Description("Optional tab: a UI category or Diagramm")),
	), s.listNoteDates)

	s.mcp.AddTool(mcp.NewTool("get_notes",
		mcp.WithDescription("Get the notes of one date, optionally narrowed to a UI category."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer ID")),
		mcp.WithString("date", mcp.Required(), mcp.Description("Date key YYYY-MM-DD")),
		mcp.WithString("category", mcp.Description("Optional UI category")),
	), s.getNotes)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Add a note to a customer's history. Read the "+CategoriesURI+
			" resource for the allowed categories."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer ID")),
		mcp.WithString("note", mcp.Required(), mcp.Description("Note text")),
		mcp.WithString("category", mcp.Description("UI category, default Notizen")),
		mcp.WithString("date", mcp.Description("Date YYYY-MM-DD or RFC 3339, default now")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search the cached note text of a customer."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer ID")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results, default 20")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("export_timeline",
		mcp.WithDescription("Export a customer's full timeline to a Markdown file and return its metadata."),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer ID")),
	), s.exportTimeline)

	s.mcp.AddResource(
		mcp.NewResource(CategoriesURI, "Note categories",
			mcp.WithResourceDescription("UI categories, their API names and the tab rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCategoriesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found"), nil
	case errors.Is(err, apperr.ErrSuperseded):
		return mcp.NewToolResultError("superseded by a newer request, retry"), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
}

func (s *Server) refreshNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := req.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	records, err := s.svc.Refresh(ctx, customerID,
		req.GetInt("page", history.DefaultPage),
		req.GetInt("limit", 0),
		req.GetString("category", ""))
	if err != nil {
		return errorResult(err)
	}
	dates, err := s.svc.Dates(customerID, "")
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("fetched %d records across %d dates", len(records), len(dates))), nil
}

func (s *Server) listNoteDates(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := req.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dates, err := s.svc.Dates(customerID, req.GetString("tab", ""))
	if err != nil {
		return errorResult(err)
	}
	if len(dates) == 0 {
		return mcp.NewToolResultText("no dates found"), nil
	}
	return mcp.NewToolResultText(strings.Join(dates, "\n")), nil
}

func (s *Server) getNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := req.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.Notes(customerID, date, req.GetString("category", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(notes)
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := req.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	date := time.Now()
	if raw := req.GetString("date", ""); raw != "" {
		if date, err = time.Parse(time.RFC3339, raw); err != nil {
			if date, err = time.ParseInLocation(time.DateOnly, raw, s.svc.Location()); err != nil {
				return mcp.NewToolResultError("date must be YYYY-MM-DD or RFC 3339"), nil
			}
		}
	}

	rec, err := s.svc.AddNote(ctx, customerID, noteservice.AddNoteInput{
		Text:     strings.TrimSpace(text),
		Category: req.GetString("category", ""),
		Date:     date,
	})
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("added: %s (%s, %s)",
		rec.ID, history.ToUICategory(rec.Category), history.DateKey(*rec, s.svc.Location()))), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := req.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, customerID, query, req.GetInt("limit", 20))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(results)
}

func (s *Server) exportTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID, err := req.RequireString("customer_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, err := s.svc.Export(ctx, customerID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(meta)
}

func (s *Server) readCategoriesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CategoriesURI,
			MIMEType: "text/markdown",
			Text:     CategoryGuide,
		},
	}, nil
}
