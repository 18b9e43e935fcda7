package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/lumen/internal/graph"
	"github.com/starford/lumen/internal/ingest"
	"github.com/starford/lumen/internal/layout"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/quiz"
	"github.com/starford/lumen/internal/result"
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
  - id: c2
    question: Carrier of genes?
    options:
      - text: DNA
        correct: true
      - text: Lipid
  - id: c3
    question: Boundary of the cell?
    options:
      - text: Membrane
        correct: true
      - text: Nucleus
links:
  - target: bio/dna
    similarity: 0.8
---
# Cells

Cells are the unit of life.
`

type testEnv struct {
	router  http.Handler
	files   storage.Provider
	library *ingest.Service
}

func newEnv(t *testing.T, opts RouterOptions) *testEnv {
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
	study := studyservice.New(db, graphSvc,
		studyservice.WithLogger(logger),
		studyservice.WithShuffle(func(c []models.FlashCard) []models.FlashCard { return c }),
	)
	t.Cleanup(study.Close)

	router := NewRouter(Services{
		Repo:    db,
		Study:   study,
		Graph:   graphSvc,
		Library: library,
		Layout:  layout.DefaultConfig(),
	}, opts)
	return &testEnv{router: router, files: files, library: library}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestListSubjectsAndNotes(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/subjects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("subjects status = %d", w.Code)
	}
	subjects := decode[SubjectsResponse](t, w).Subjects
	if len(subjects) != 2 || subjects[0].Name != "Biology" || subjects[0].NoteCount != 2 {
		t.Errorf("subjects = %+v", subjects)
	}

	w = env.do(t, http.MethodGet, "/notes?subject=bio", nil)
	notes := decode[NotesResponse](t, w)
	if notes.Total != 2 {
		t.Errorf("bio notes = %d, want 2", notes.Total)
	}

	w = env.do(t, http.MethodGet, "/notes", nil)
	if got := decode[NotesResponse](t, w).Total; got != 3 {
		t.Errorf("all notes = %d, want 3", got)
	}
}

func TestGetNoteWithRelated(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	for _, path := range []string{"/notes/bio/cells", "/notes/bio%2Fcells", "/notes/bio/cells.md"} {
		w := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d, body = %s", path, w.Code, w.Body.String())
		}
		note := decode[NoteDetail](t, w)
		if note.ID != "bio/cells" || note.Title != "Cells" {
			t.Errorf("%s note = %+v", path, note.Note)
		}
		if len(note.Related) != 1 || note.Related[0].NoteID != "bio/dna" || note.Related[0].SubjectName != "Biology" {
			t.Errorf("%s related = %+v", path, note.Related)
		}
	}
}

func TestGetNote_NotFound(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/notes/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note = %d, want 404", w.Code)
	}
}

func TestRelatedNotes(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/related/bio/dna?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	related := decode[RelatedResponse](t, w).Related
	if len(related) != 1 || related[0].NoteID != "bio/cells" || related[0].Similarity != 0.8 {
		t.Errorf("related = %+v", related)
	}

	w = env.do(t, http.MethodGet, "/related/chem/atoms", nil)
	if got := decode[RelatedResponse](t, w).Related; got == nil || len(got) != 0 {
		t.Errorf("unlinked note related = %#v, want empty", got)
	}
}

func TestSourceWithOptimisticLocking(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/source/bio/dna", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get source = %d", w.Code)
	}
	src := decode[NoteSource](t, w)
	if w.Header().Get("ETag") != `"`+src.Checksum+`"` {
		t.Errorf("etag = %q, checksum = %q", w.Header().Get("ETag"), src.Checksum)
	}

	update := WriteSourceRequest{Content: "---\nsubject: bio\n---\n# DNA and RNA\n"}
	w = env.do(t, http.MethodPut, "/source/bio/dna", update, "If-Match", `"wrong"`)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale write = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPut, "/source/bio/dna", update, "If-Match", `"`+src.Checksum+`"`)
	if w.Code != http.StatusOK {
		t.Fatalf("write = %d, body = %s", w.Code, w.Body.String())
	}
	if note := decode[models.Note](t, w); note.Title != "DNA and RNA" {
		t.Errorf("title = %q", note.Title)
	}

	w = env.do(t, http.MethodGet, "/notes/bio/dna", nil)
	if got := decode[NoteDetail](t, w).Title; got != "DNA and RNA" {
		t.Errorf("stored title = %q", got)
	}
}

func TestPutSourceCreatesNote(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodPut, "/source/chem/bonds", WriteSourceRequest{Content: "# Bonds\n\nSee [[Atoms]].\n"})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/related/chem/atoms", nil)
	related := decode[RelatedResponse](t, w).Related
	if len(related) != 1 || related[0].NoteID != "chem/bonds" {
		t.Errorf("wikilink not indexed: %+v", related)
	}
}

func TestPutSourceValidation(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodPut, "/source/x", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing content = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPut, "/source/x", WriteSourceRequest{Content: "---\ntitle: [\n---\n"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken frontmatter = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPut, "/source/ghost", WriteSourceRequest{Content: "# Ghost"}, "If-Match", "abc")
	if w.Code != http.StatusNotFound {
		t.Errorf("if-match on missing = %d, want 404", w.Code)
	}
}

func TestDeleteSource(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodDelete, "/source/chem/atoms", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/notes/chem/atoms", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted note = %d, want 404", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/source/chem/atoms", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestSyncLibrary(t *testing.T) {
	env := newEnv(t, RouterOptions{})
	testutil.WriteFile(t, env.files, "chem/ions.md", "# Ions\n")

	w := env.do(t, http.MethodPost, "/library/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d", w.Code)
	}
	st := decode[SyncResponse](t, w)
	if st.Indexed != 1 || st.Skipped != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/search?q=heredity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	results := decode[SearchResponse](t, w).Results
	if len(results) != 1 || results[0].NoteID != "bio/dna" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestUpsertLink(t *testing.T) {
	env := newEnv(t, RouterOptions{})
	sim := 0.6

	w := env.do(t, http.MethodPut, "/links", LinkRequest{SourceID: "chem/atoms", TargetID: "bio/cells", Similarity: &sim, Type: "analogy"})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert = %d, body = %s", w.Code, w.Body.String())
	}
	link := decode[models.SemanticLink](t, w)
	if link.ID == "" || link.Strength != 0.6 {
		t.Errorf("link = %+v", link)
	}

	w = env.do(t, http.MethodGet, "/related/bio/cells", nil)
	related := decode[RelatedResponse](t, w).Related
	if len(related) != 2 || related[0].NoteID != "bio/dna" || related[1].NoteID != "chem/atoms" {
		t.Errorf("related = %+v", related)
	}

	bad := 1.5
	w = env.do(t, http.MethodPut, "/links", LinkRequest{SourceID: "chem/atoms", TargetID: "bio/cells", Similarity: &bad})
	if w.Code != http.StatusBadRequest {
		t.Errorf("similarity 1.5 = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPut, "/links", LinkRequest{SourceID: "chem/atoms", TargetID: "nowhere", Similarity: &sim})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown target = %d, want 404", w.Code)
	}
	w = env.do(t, http.MethodPut, "/links", map[string]string{"source_id": "chem/atoms"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", w.Code)
	}
}

func TestGraphEndpoint(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graph = %d", w.Code)
	}
	g := decode[layout.Graph](t, w)
	if len(g.Nodes) != 3 || len(g.Edges) != 1 || len(g.Clusters) != 2 {
		t.Errorf("graph = %d nodes, %d edges, %d clusters", len(g.Nodes), len(g.Edges), len(g.Clusters))
	}

	w = env.do(t, http.MethodGet, "/graph?subject=chem&width=600", nil)
	g = decode[layout.Graph](t, w)
	if len(g.Nodes) != 1 || g.Width != 600 {
		t.Errorf("chem graph = %+v", g)
	}
}

func TestDueCards(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodGet, "/cards/due?subject=bio", nil)
	due := decode[DueCardsResponse](t, w)
	if due.Total != 3 || due.Cards[0].ID != "c1" {
		t.Errorf("due = %+v", due)
	}
	w = env.do(t, http.MethodGet, "/cards/due?subject=chem", nil)
	if got := decode[DueCardsResponse](t, w); got.Total != 0 || got.Cards == nil {
		t.Errorf("chem due = %+v", got)
	}
}

func startSession(t *testing.T, env *testEnv) quiz.State {
	t.Helper()
	subject := "bio"
	w := env.do(t, http.MethodPost, "/sessions", StartSessionRequest{Kind: models.SessionQuickReview, SubjectID: &subject, QuestionCount: 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("start = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[quiz.State](t, w)
}

func answerCurrent(t *testing.T, env *testEnv, id, option string) quiz.State {
	t.Helper()
	w := env.do(t, http.MethodPost, "/sessions/"+id+"/select", SelectOptionRequest{OptionID: option})
	if w.Code != http.StatusOK {
		t.Fatalf("select = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[quiz.State](t, w)
}

func TestSessionFlow(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	st := startSession(t, env)
	if st.Phase != quiz.PhaseInProgress || st.Total != 3 || st.Card == nil || st.Card.ID != "c1" {
		t.Fatalf("start state = %+v", st)
	}
	id := st.SessionID

	w := env.do(t, http.MethodPost, "/sessions/"+id+"/confidence", ConfidenceRequest{Confidence: "sure"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad confidence = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/sessions/"+id+"/confidence", ConfidenceRequest{Confidence: models.ConfidenceEasy})
	if got := decode[quiz.State](t, w).Confidence; got != models.ConfidenceEasy {
		t.Errorf("confidence = %q", got)
	}

	answerCurrent(t, env, id, "a")
	answerCurrent(t, env, id, "b")
	st = answerCurrent(t, env, id, "a")
	if st.Phase != quiz.PhaseCompleted {
		t.Fatalf("final phase = %s", st.Phase)
	}

	w = env.do(t, http.MethodGet, "/sessions/"+id+"/result", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("result = %d", w.Code)
	}
	res := decode[result.Summary](t, w)
	if res.ScorePercent != 66 || res.TotalCorrect != 2 || res.Status != models.StatusCompleted {
		t.Errorf("result = %+v", res)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0].NoteID != "bio/dna" {
		t.Errorf("suggestions = %+v", res.Suggestions)
	}

	w = env.do(t, http.MethodGet, "/sessions/"+id, nil)
	view := decode[studyservice.View](t, w)
	if view.State != nil || !view.Session.Completed() {
		t.Errorf("view = %+v", view)
	}

	w = env.do(t, http.MethodGet, "/progress/bio", nil)
	p := decode[models.UserProgress](t, w)
	if p.SessionsCompleted != 1 || p.ExperiencePoints != 20 || p.NotesTotal != 2 {
		t.Errorf("progress = %+v", p)
	}

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("submit after completion = %d, want 409", w.Code)
	}
}

func TestSubmitWithoutSelection(t *testing.T) {
	env := newEnv(t, RouterOptions{})
	st := startSession(t, env)

	w := env.do(t, http.MethodPost, "/sessions/"+st.SessionID+"/submit", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("submit = %d, want 422", w.Code)
	}
	w = env.do(t, http.MethodPost, "/sessions/"+st.SessionID+"/select", SelectOptionRequest{OptionID: "zz"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown option = %d, want 400", w.Code)
	}
}

func TestExitResumeAndOpenSessions(t *testing.T) {
	env := newEnv(t, RouterOptions{})
	st := startSession(t, env)
	id := st.SessionID
	answerCurrent(t, env, id, "a")

	w := env.do(t, http.MethodPost, "/sessions/"+id+"/exit", nil)
	if got := decode[quiz.State](t, w).Phase; got != quiz.PhaseExited {
		t.Fatalf("exit phase = %s", got)
	}
	// Session timestamps have millisecond precision.
	time.Sleep(5 * time.Millisecond)

	w = env.do(t, http.MethodGet, "/sessions?open=true&older_than=0s", nil)
	sessions := decode[SessionsResponse](t, w).Sessions
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Errorf("open sessions = %+v", sessions)
	}

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/resume", nil)
	st = decode[quiz.State](t, w)
	if st.Phase != quiz.PhaseInProgress || st.Index != 1 || st.AnsweredCount != 1 {
		t.Errorf("resumed = %+v", st)
	}

	w = env.do(t, http.MethodGet, "/sessions?open=true&older_than=soon", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad duration = %d, want 400", w.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	for _, path := range []string{"/sessions/nope", "/sessions/nope/result"} {
		if w := env.do(t, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodPost, "/sessions/nope/resume", nil); w.Code != http.StatusNotFound {
		t.Errorf("resume = %d, want 404", w.Code)
	}
}

func TestStartSessionValidation(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	w := env.do(t, http.MethodPost, "/sessions", map[string]string{"kind": "cram"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad kind = %d, want 400", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("broken json = %d, want 400", rec.Code)
	}
}

func TestProgressUnknownSubject(t *testing.T) {
	env := newEnv(t, RouterOptions{})

	if w := env.do(t, http.MethodGet, "/progress/astro", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown subject = %d, want 404", w.Code)
	}
	w := env.do(t, http.MethodGet, "/progress/chem", nil)
	p := decode[models.UserProgress](t, w)
	if p.SubjectID != "chem" || p.SessionsCompleted != 0 || p.NotesTotal != 1 {
		t.Errorf("fresh progress = %+v", p)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := newEnv(t, RouterOptions{AuthEnabled: true, Token: "secret123"})

	w := env.do(t, http.MethodGet, "/subjects", nil, "Authorization", "Bearer secret123")
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newEnv(t, RouterOptions{AuthEnabled: true, Token: "secret123"})

	w := env.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := newEnv(t, RouterOptions{AuthEnabled: true, Token: "secret123"})

	w := env.do(t, http.MethodGet, "/notes", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, RouterOptions{Limiter: NewRateLimiter(0.001, 2)})

	for i := range 2 {
		if w := env.do(t, http.MethodGet, "/subjects", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodGet, "/subjects", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("over budget = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for range 100 {
		if !rl.Allow("1.2.3.4") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiterDropsIdleClients(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	now = now.Add(limiterIdle / 2)
	rl.Allow("10.0.0.2")
	if got := len(rl.clients); got != 2 {
		t.Fatalf("clients = %d, want 2", got)
	}

	now = now.Add(limiterIdle)
	rl.Allow("10.0.0.3")
	if _, ok := rl.clients["10.0.0.1"]; ok {
		t.Error("idle client 10.0.0.1 kept")
	}
	if _, ok := rl.clients["10.0.0.2"]; ok {
		t.Error("idle client 10.0.0.2 kept")
	}
	if got := len(rl.clients); got != 1 {
		t.Errorf("clients = %d, want 1", got)
	}
}

// SSE endpoint auth tests.

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := newEnv(t, RouterOptions{AuthEnabled: true, Token: "secret", Events: sseStub})

	w := env.do(t, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := newEnv(t, RouterOptions{AuthEnabled: true, Token: "tok", Events: sseStub})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
