// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Lumen study tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/graph"
	"github.com/starford/lumen/internal/ingest"
	"github.com/starford/lumen/internal/layout"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/store"
	"github.com/starford/lumen/internal/studyservice"
)

// LibraryFormatURI is the resource that serves LibraryFormat.
const LibraryFormatURI = "lumen://library-format"

// Deps are the services the tools call into.
type Deps struct {
	Repo    store.Repository
	Graph   *graph.Service
	Study   *studyservice.Service
	Library *ingest.Service
	Layout  layout.Config
}

// Server wraps the MCP server with Lumen tools.
type Server struct {
	mcp  *server.MCPServer
	deps Deps
	now  func() time.Time
}

// New creates a new MCP server with all Lumen tools registered.
func New(deps Deps, version string) *Server {
	s := &Server{deps: deps, now: time.Now}

	s.mcp = server.NewMCPServer(
		"Lumen",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_subjects",
		mcp.WithDescription("List subjects with their note counts and mastery percent."),
	), s.listSubjects)

	s.mcp.AddTool(mcp.NewTool("due_cards",
		mcp.WithDescription("Flash cards due for review now, never-reviewed cards first."),
		mcp.WithString("subject", mcp.Description("Optional subject id")),
		mcp.WithNumber("limit", mcp.Description("Max cards (default 20)"), mcp.Min(1)),
	), s.dueCards)

	s.mcp.AddTool(mcp.NewTool("related_notes",
		mcp.WithDescription("Notes semantically linked to a note, most similar first."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note id, e.g. bio/cells")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)"), mcp.Min(1)),
	), s.relatedNotes)

	s.mcp.AddTool(mcp.NewTool("upsert_link",
		mcp.WithDescription("Create or replace the semantic link between two notes. "+
			"Links are undirected: an existing link between the pair in either direction is replaced."),
		mcp.WithString("source_id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithNumber("similarity", mcp.Required(), mcp.Description("0..1"), mcp.Min(0), mcp.Max(1)),
		mcp.WithString("type", mcp.Description("Link type (default related)"),
			mcp.Enum(models.LinkPrerequisite, models.LinkRelated, models.LinkAnalogy)),
		mcp.WithNumber("strength", mcp.Description("0..1, defaults to similarity"), mcp.Min(0), mcp.Max(1)),
	), s.upsertLink)

	s.mcp.AddTool(mcp.NewTool("graph_layout",
		mcp.WithDescription("Node and edge coordinates of the knowledge graph, clustered by subject."),
		mcp.WithString("subject", mcp.Description("Optional subject id")),
	), s.graphLayout)

	s.mcp.AddTool(mcp.NewTool("session_result",
		mcp.WithDescription("Score, per-answer details and suggested notes of a study session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.sessionResult)

	s.mcp.AddTool(mcp.NewTool("progress",
		mcp.WithDescription("Learner progress of a subject: mastery, XP, streak, average score."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject id")),
	), s.progress)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)"), mcp.Min(1)),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the Markdown source of a note and its checksum."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note id, e.g. bio/cells")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("write_note",
		mcp.WithDescription("Create or replace a note. Content MUST follow the library format: "+
			"read it first via get_library_format or the "+LibraryFormatURI+" resource. "+
			"Pass the checksum from read_note as if_match to avoid overwriting concurrent edits."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note id without .md")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown with YAML frontmatter")),
		mcp.WithString("if_match", mcp.Description("Checksum the current file must have")),
	), s.writeNote)

	s.mcp.AddTool(mcp.NewTool("get_library_format",
		mcp.WithDescription("Returns the Lumen library note format. "+
			"Call this before writing notes to get frontmatter, cards and links right."),
	), s.getLibraryFormat)

	s.mcp.AddResource(
		mcp.NewResource(LibraryFormatURI, "Library Format",
			mcp.WithResourceDescription("Markdown and frontmatter format of library notes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLibraryFormatResource,
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

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult reports domain errors to the model; they are not protocol errors.
func errorResult(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error()), nil
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("checksum mismatch: the note changed, read it again"), nil
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func optionalString(req mcp.CallToolRequest, name string) *string {
	if v := req.GetString(name, ""); v != "" {
		return &v
	}
	return nil
}

func (s *Server) listSubjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subjects, err := s.deps.Repo.ListSubjects(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(subjects)
}

func (s *Server) dueCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	cards, err := s.deps.Repo.GetDueCards(ctx, optionalString(req, "subject"), s.now())
	if err != nil {
		return errorResult(err)
	}
	total := len(cards)
	if limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}
	return jsonResult(map[string]any{"total": total, "cards": cards})
}

func (s *Server) relatedNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	related, err := s.deps.Graph.RelatedNotes(ctx, id, req.GetInt("limit", 10))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(related)
}

func (s *Server) upsertLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	similarity, err := req.RequireFloat("similarity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.deps.Graph.UpsertLink(ctx, models.SemanticLink{
		SourceID:   source,
		TargetID:   target,
		Similarity: similarity,
		Type:       req.GetString("type", ""),
		Strength:   req.GetFloat("strength", similarity),
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(link)
}

func (s *Server) graphLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := s.deps.Graph.Layout(ctx, optionalString(req, "subject"), s.deps.Layout)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(g)
}

func (s *Server) sessionResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.deps.Study.Result(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

func (s *Server) progress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("subject_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.deps.Repo.GetProgress(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	if p == nil {
		return mcp.NewToolResultText(fmt.Sprintf("no sessions completed for subject %s yet", id)), nil
	}
	return jsonResult(p)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.deps.Repo.SearchNotes(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(results)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := s.deps.Library.Source(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(src)
}

func (s *Server) writeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.deps.Library.WriteNote(ctx, id, []byte(content), req.GetString("if_match", ""))
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (%s)", note.ID, note.Title)), nil
}

func (s *Server) getLibraryFormat(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LibraryFormat), nil
}

func (s *Server) readLibraryFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LibraryFormatURI,
			MIMEType: "text/markdown",
			Text:     LibraryFormat,
		},
	}, nil
}
