package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/lumen/internal/graph"
	"github.com/starford/lumen/internal/ingest"
	"github.com/starford/lumen/internal/layout"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/storage"
	"github.com/starford/lumen/internal/studyservice"
	"github.com/starford/lumen/internal/testutil"
)

const cellsNote = `---
title: Cells
subject:
  id: bio
  name: Biology
cards:
  - id: c1
    question: Powerhouse of the cell?
    options:
      - text: Mitochondria
        correct: true
      - text: Ribosome
links:
  - target: bio/dna
    similarity: 0.8
---
# Cells

Cells are the unit of life.
`

type testEnv struct {
	srv   *Server
	files storage.Provider
	study *studyservice.Service
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	_, files := testutil.TestLibrary(t)
	db := testutil.TestDB(t)
	logger := testutil.Logger()

	testutil.WriteFile(t, files, "bio/cells.md", cellsNote)
	testutil.WriteFile(t, files, "bio/dna.md", "---\nsubject: bio\n---\n# DNA\n\nThe molecule of heredity.\n")
	testutil.WriteFile(t, files, "chem/atoms.md", "# Atoms\n\nSmall things.\n")

	library := ingest.NewService(files, db, ingest.WithLogger(logger))
	if _, err := library.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	graphSvc := graph.NewService(db)
	study := studyservice.New(db, graphSvc, studyservice.WithLogger(logger))
	t.Cleanup(study.Close)

	srv := New(Deps{
		Repo:    db,
		Graph:   graphSvc,
		Study:   study,
		Library: library,
		Layout:  layout.DefaultConfig(),
	}, "test")
	return &testEnv{srv: srv, files: files, study: study}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_subjects":      srv.listSubjects,
		"due_cards":          srv.dueCards,
		"related_notes":      srv.relatedNotes,
		"upsert_link":        srv.upsertLink,
		"graph_layout":       srv.graphLayout,
		"session_result":     srv.sessionResult,
		"progress":           srv.progress,
		"search_notes":       srv.searchNotes,
		"read_note":          srv.readNote,
		"write_note":         srv.writeNote,
		"get_library_format": srv.getLibraryFormat,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeResult[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	var v T
	if err := json.Unmarshal([]byte(resultText(r)), &v); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return v
}

func TestListSubjects(t *testing.T) {
	env := testServer(t)
	subjects := decodeResult[[]models.Subject](t, callTool(t, env.srv, "list_subjects", nil))
	if len(subjects) != 2 {
		t.Fatalf("subjects = %d, want 2", len(subjects))
	}
}

func TestDueCards(t *testing.T) {
	env := testServer(t)
	out := decodeResult[struct {
		Total int                `json:"total"`
		Cards []models.FlashCard `json:"cards"`
	}](t, callTool(t, env.srv, "due_cards", map[string]any{"subject": "bio"}))
	if out.Total != 1 || len(out.Cards) != 1 || out.Cards[0].ID != "c1" {
		t.Errorf("due = %+v", out)
	}

	out = decodeResult[struct {
		Total int                `json:"total"`
		Cards []models.FlashCard `json:"cards"`
	}](t, callTool(t, env.srv, "due_cards", map[string]any{"subject": "chem"}))
	if out.Total != 0 {
		t.Errorf("chem due = %d, want 0", out.Total)
	}
}

func TestRelatedNotes(t *testing.T) {
	env := testServer(t)
	related := decodeResult[[]models.RelatedNote](t, callTool(t, env.srv, "related_notes", map[string]any{"note_id": "bio/dna"}))
	if len(related) != 1 || related[0].NoteID != "bio/cells" || related[0].Similarity != 0.8 {
		t.Errorf("related = %+v", related)
	}

	r := callTool(t, env.srv, "related_notes", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing note_id")
	}
}

func TestUpsertLinkReplacesReversePair(t *testing.T) {
	env := testServer(t)
	link := decodeResult[models.SemanticLink](t, callTool(t, env.srv, "upsert_link", map[string]any{
		"source_id":  "bio/dna",
		"target_id":  "bio/cells",
		"similarity": 0.3,
		"type":       models.LinkPrerequisite,
	}))
	if link.Strength != 0.3 || link.Type != models.LinkPrerequisite {
		t.Errorf("link = %+v", link)
	}

	related := decodeResult[[]models.RelatedNote](t, callTool(t, env.srv, "related_notes", map[string]any{"note_id": "bio/cells"}))
	if len(related) != 1 || related[0].Similarity != 0.3 {
		t.Errorf("related = %+v, want single link with 0.3", related)
	}
}

func TestUpsertLinkRejectsInvalid(t *testing.T) {
	env := testServer(t)
	cases := []map[string]any{
		{"source_id": "bio/cells", "target_id": "bio/cells", "similarity": 0.5},
		{"source_id": "bio/cells", "target_id": "bio/dna", "similarity": 1.5},
		{"source_id": "bio/cells", "target_id": "nope", "similarity": 0.5},
		{"source_id": "bio/cells", "target_id": "bio/dna"},
	}
	for _, args := range cases {
		if r := callTool(t, env.srv, "upsert_link", args); !r.IsError {
			t.Errorf("args %v: expected error, got %s", args, resultText(r))
		}
	}
}

func TestGraphLayout(t *testing.T) {
	env := testServer(t)
	g := decodeResult[layout.Graph](t, callTool(t, env.srv, "graph_layout", map[string]any{"subject": "bio"}))
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("graph nodes=%d edges=%d, want 2/1", len(g.Nodes), len(g.Edges))
	}
}

func TestSessionResultAndProgress(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	subject := "bio"

	r := callTool(t, env.srv, "progress", map[string]any{"subject_id": subject})
	if r.IsError || !strings.Contains(resultText(r), "no sessions") {
		t.Errorf("progress before session = %q", resultText(r))
	}

	st, err := env.study.StartSession(ctx, studyservice.StartRequest{Kind: models.SessionQuickReview, SubjectID: &subject})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.study.SelectOption(ctx, st.SessionID, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.study.Submit(ctx, st.SessionID); err != nil {
		t.Fatal(err)
	}

	res := decodeResult[struct {
		ScorePercent int `json:"score_percent"`
		XPEarned     int `json:"xp_earned"`
	}](t, callTool(t, env.srv, "session_result", map[string]any{"session_id": st.SessionID}))
	if res.ScorePercent != 100 || res.XPEarned != 10 {
		t.Errorf("result = %+v", res)
	}

	p := decodeResult[models.UserProgress](t, callTool(t, env.srv, "progress", map[string]any{"subject_id": subject}))
	if p.ExperiencePoints != 10 {
		t.Errorf("progress xp = %d, want 10", p.ExperiencePoints)
	}

	if r := callTool(t, env.srv, "session_result", map[string]any{"session_id": "missing"}); !r.IsError {
		t.Error("expected error for unknown session")
	}
}

func TestSearchNotes(t *testing.T) {
	env := testServer(t)
	results := decodeResult[[]struct {
		NoteID string `json:"note_id"`
	}](t, callTool(t, env.srv, "search_notes", map[string]any{"query": "heredity"}))
	if len(results) != 1 || results[0].NoteID != "bio/dna" {
		t.Errorf("search = %+v", results)
	}
}

func TestWriteAndReadNote(t *testing.T) {
	env := testServer(t)

	r := callTool(t, env.srv, "write_note", map[string]any{
		"note_id": "chem/bonds",
		"content": "# Bonds\n\nAtoms share electrons. See [[Atoms]].\n",
	})
	if text := resultText(r); text != "saved: chem/bonds (Bonds)" {
		t.Fatalf("write result = %q", text)
	}

	src := decodeResult[ingest.Source](t, callTool(t, env.srv, "read_note", map[string]any{"note_id": "chem/bonds"}))
	if !strings.Contains(src.Content, "share electrons") || src.Checksum == "" {
		t.Errorf("source = %+v", src)
	}

	related := decodeResult[[]models.RelatedNote](t, callTool(t, env.srv, "related_notes", map[string]any{"note_id": "chem/atoms"}))
	if len(related) != 1 || related[0].NoteID != "chem/bonds" {
		t.Errorf("wikilink not linked: %+v", related)
	}

	r = callTool(t, env.srv, "write_note", map[string]any{
		"note_id":  "chem/bonds",
		"content":  "# Bonds v2\n",
		"if_match": "stale",
	})
	if !r.IsError || !strings.Contains(resultText(r), "checksum mismatch") {
		t.Errorf("stale write = %q", resultText(r))
	}

	r = callTool(t, env.srv, "write_note", map[string]any{
		"note_id":  "chem/bonds",
		"content":  "# Bonds v2\n",
		"if_match": src.Checksum,
	})
	if r.IsError {
		t.Errorf("write with checksum: %s", resultText(r))
	}
}

func TestReadNoteMissing(t *testing.T) {
	env := testServer(t)
	r := callTool(t, env.srv, "read_note", map[string]any{"note_id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestLibraryFormat(t *testing.T) {
	env := testServer(t)
	r := callTool(t, env.srv, "get_library_format", nil)
	if resultText(r) != LibraryFormat {
		t.Error("format tool did not return LibraryFormat")
	}

	contents, err := env.srv.readLibraryFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != LibraryFormatURI || tc.Text != LibraryFormat {
		t.Errorf("resource = %+v", contents[0])
	}
}
