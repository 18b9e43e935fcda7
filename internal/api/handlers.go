package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
)

const defaultRelatedLimit = 10

// Handler holds API route handlers.
type Handler struct {
	svc Services
}

// NewHandler creates a new Handler.
func NewHandler(svc Services) *Handler {
	if svc.StaleAfter <= 0 {
		svc.StaleAfter = time.Hour
	}
	return &Handler{svc: svc}
}

// noteID extracts the note id from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. bio%2Fcells).
func noteID(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return strings.TrimSuffix(decoded, ".md")
}

// subjectParam returns the optional ?subject= filter.
func subjectParam(r *http.Request) *string {
	if s := r.URL.Query().Get("subject"); s != "" {
		return &s
	}
	return nil
}

func intParam(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func floatParam(r *http.Request, name string, def float64) float64 {
	f, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// ListSubjects handles GET /api/subjects.
//
//	@Summary		List subjects with note counts and mastery
//	@Tags			library
//	@Produce		json
//	@Success		200	{object}	SubjectsResponse
//	@Security		BearerAuth
//	@Router			/subjects [get]
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.svc.Repo.ListSubjects(r.Context())
	if err != nil {
		writeError(w, "list subjects", err)
		return
	}
	writeJSON(w, http.StatusOK, SubjectsResponse{Subjects: nonNil(subjects)})
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes, optionally of one subject
//	@Tags			library
//	@Produce		json
//	@Param			subject	query		string	false	"Subject id"
//	@Success		200		{object}	NotesResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.Repo.ListNotes(r.Context(), subjectParam(r))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NotesResponse{Notes: nonNil(notes), Total: len(notes)})
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a note and its related notes
//	@Tags			library
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	note, err := h.svc.Repo.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	if note == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	related, err := h.svc.Graph.RelatedNotes(r.Context(), id, defaultRelatedLimit)
	if err != nil {
		writeError(w, "related notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteDetail{Note: *note, Related: related})
}

// RelatedNotes handles GET /api/related/*.
//
//	@Summary		Notes linked to a note, most similar first
//	@Tags			graph
//	@Produce		json
//	@Param			id		path		string	true	"Note id"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	RelatedResponse
//	@Security		BearerAuth
//	@Router			/related/{id} [get]
func (h *Handler) RelatedNotes(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	related, err := h.svc.Graph.RelatedNotes(r.Context(), id, intParam(r, "limit", defaultRelatedLimit))
	if err != nil {
		writeError(w, "related notes", err)
		return
	}
	writeJSON(w, http.StatusOK, RelatedResponse{Related: related})
}

// GetSource handles GET /api/source/*. The checksum is also sent as ETag.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	src, err := h.svc.Library.Source(r.Context(), id)
	if err != nil {
		writeError(w, "read source", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(src.Checksum))
	writeJSON(w, http.StatusOK, src)
}

// PutSource handles PUT /api/source/*.
//
//	@Summary		Create or replace a note's Markdown with optimistic concurrency
//	@Tags			library
//	@Accept			json
//	@Produce		json
//	@Param			id			path	string				true	"Note id"
//	@Param			If-Match	header	string				false	"SHA-256 checksum of the current file"
//	@Param			body		body	WriteSourceRequest	true	"Markdown content"
//	@Success		200			{object}	models.Note
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/source/{id} [put]
func (h *Handler) PutSource(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	var req WriteSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	note, err := h.svc.Library.WriteNote(r.Context(), id, []byte(req.Content), ifMatch)
	if err != nil {
		writeError(w, "write source", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteSource handles DELETE /api/source/*.
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	if err := h.svc.Library.DeleteNote(r.Context(), id); err != nil {
		writeError(w, "delete source", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncLibrary handles POST /api/library/sync.
func (h *Handler) SyncLibrary(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Library.Sync(r.Context())
	if err != nil {
		writeError(w, "sync library", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.svc.Repo.SearchNotes(r.Context(), q, intParam(r, "limit", 20))
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}

// UpsertLink handles PUT /api/links. Any link between the same two notes is replaced.
//
//	@Summary		Create or replace the semantic link between two notes
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LinkRequest	true	"Link"
//	@Success		200		{object}	models.SemanticLink
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [put]
func (h *Handler) UpsertLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := h.svc.Graph.UpsertLink(r.Context(), req.link())
	if err != nil {
		writeError(w, "upsert link", err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// Graph handles GET /api/graph.
//
//	@Summary		Laid-out knowledge graph, optionally of one subject
//	@Tags			graph
//	@Produce		json
//	@Param			subject	query		string	false	"Subject id"
//	@Success		200		{object}	layout.Graph
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	cfg := h.svc.Layout
	cfg.Width = floatParam(r, "width", cfg.Width)
	cfg.Height = floatParam(r, "height", cfg.Height)
	g, err := h.svc.Graph.Layout(r.Context(), subjectParam(r), cfg)
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DueCards handles GET /api/cards/due.
func (h *Handler) DueCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.svc.Repo.GetDueCards(r.Context(), subjectParam(r), time.Now())
	if err != nil {
		writeError(w, "due cards", err)
		return
	}
	writeJSON(w, http.StatusOK, DueCardsResponse{Cards: nonNil(cards), Total: len(cards)})
}

// Progress handles GET /api/progress/{subjectID}. A subject never studied
// reports zero progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	sub, err := h.svc.Repo.GetSubject(r.Context(), subjectID)
	if err != nil {
		writeError(w, "get subject", err)
		return
	}
	if sub == nil {
		writeError(w, "get subject", fmt.Errorf("subject %s: %w", subjectID, apperr.ErrNotFound))
		return
	}
	p, err := h.svc.Repo.GetProgress(r.Context(), subjectID)
	if err != nil {
		writeError(w, "get progress", err)
		return
	}
	if p == nil {
		p = &models.UserProgress{SubjectID: subjectID, NotesTotal: sub.NoteCount}
	}
	writeJSON(w, http.StatusOK, p)
}

// ListSessions handles GET /api/sessions?open=true&older_than=1h: in-progress
// sessions nobody is running.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("open") != "true" {
		writeJSON(w, http.StatusBadRequest, errorBody("only open=true listings are supported"))
		return
	}
	olderThan := h.svc.StaleAfter
	if v := q.Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("older_than must be a duration such as 30m"))
			return
		}
		olderThan = d
	}
	sessions, err := h.svc.Study.OpenSessions(r.Context(), olderThan)
	if err != nil {
		writeError(w, "open sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// StartSession handles POST /api/sessions.
//
//	@Summary		Start a quick review or timed exam
//	@Tags			study
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StartSessionRequest	true	"Session"
//	@Success		201		{object}	quiz.State
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.Study.StartSession(r.Context(), req)
	if err != nil {
		writeError(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Study.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// SelectOption handles POST /api/sessions/{id}/select.
func (h *Handler) SelectOption(w http.ResponseWriter, r *http.Request) {
	var req SelectOptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.Study.SelectOption(r.Context(), chi.URLParam(r, "id"), req.OptionID)
	if err != nil {
		writeError(w, "select option", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetConfidence handles POST /api/sessions/{id}/confidence.
func (h *Handler) SetConfidence(w http.ResponseWriter, r *http.Request) {
	var req ConfidenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.Study.SetConfidence(r.Context(), chi.URLParam(r, "id"), req.Confidence)
	if err != nil {
		writeError(w, "set confidence", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Submit handles POST /api/sessions/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Study.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Exit handles POST /api/sessions/{id}/exit.
func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Study.Exit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "exit", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Resume handles POST /api/sessions/{id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Study.ResumeSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Result handles GET /api/sessions/{id}/result.
//
//	@Summary		Score, answer details and study suggestions of a session
//	@Tags			study
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	result.Summary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/result [get]
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Study.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "result", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
