package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/webthing-core/internal/journal"
	"github.com/nerrad567/webthing-core/internal/thing"
)

// actionRequest is the body of one entry in POST /actions:
//
//	{"fade": {"input": {"brightness": 50, "duration": 2000}}}
type actionRequest struct {
	Input map[string]any `json:"input"`
}

// lookupThing resolves {thingID}, writing a 404 when it is unknown.
func (s *Server) lookupThing(w http.ResponseWriter, r *http.Request) (*thing.Thing, bool) {
	t, err := s.things.Get(chi.URLParam(r, "thingID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return t, true
}

// describe returns the thing description with its href and a link to the
// thing's WebSocket endpoint on the host the client used.
func describe(t *thing.Thing, r *http.Request) thing.Metadata {
	desc := t.AsDescription()
	desc["href"] = t.Href()

	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	links, _ := desc["links"].([]any) //nolint:errcheck // AsDescription always sets links
	desc["links"] = append(links, map[string]any{
		"rel":  "alternate",
		"href": fmt.Sprintf("%s://%s%s/ws", scheme, r.Host, t.Href()),
	})
	return desc
}

// handleListThings returns every hosted thing's description in registration order.
func (s *Server) handleListThings(w http.ResponseWriter, r *http.Request) {
	things := s.things.List()
	out := make([]thing.Metadata, 0, len(things))
	for _, t := range things {
		out = append(out, describe(t, r))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetThing(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(t, r))
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func (s *Server) handleGetProperties(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.GetProperties())
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	v, err := t.GetProperty(name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{name: v})
}

// handleSetProperty applies {"name": value} to the named property and
// returns the value now held, which a driver hook may have adjusted.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	v, present := body[name]
	if !present || len(body) != 1 {
		writeBadRequest(w, fmt.Sprintf("body must be {%q: value}", name))
		return
	}

	if err := t.SetProperty(name, v); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	current, err := t.GetProperty(name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{name: current})
}

// handleSetProperties applies several writes in key order. The first failure
// stops processing; earlier writes stay applied.
func (s *Server) handleSetProperties(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "no properties given")
		return
	}

	out := make(map[string]any, len(body))
	for _, name := range slices.Sorted(maps.Keys(body)) {
		if err := t.SetProperty(name, body[name]); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		out[name], _ = t.GetProperty(name) //nolint:errcheck // property was just written
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// handleListActions returns action records, all of them or those of {action}.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "action")
	if name != "" && !slices.Contains(t.AvailableActions(), name) {
		s.writeDomainError(w, r, fmt.Errorf("%w: %s", thing.ErrActionNotSupported, name))
		return
	}
	writeJSON(w, http.StatusOK, t.ActionDescriptions(name))
}

// handleRequestActions performs each requested action and returns 201 with
// their descriptions. Under /actions/{action} only that name is accepted.
// Every name and input is validated before any action is started; a
// scheduling failure after that (a full queue) can still leave earlier
// actions of the same request running.
func (s *Server) handleRequestActions(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	var body map[string]actionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "no action given")
		return
	}
	if only := chi.URLParam(r, "action"); only != "" {
		if _, present := body[only]; !present || len(body) != 1 {
			writeBadRequest(w, fmt.Sprintf("body must be {%q: {\"input\": ...}}", only))
			return
		}
	}

	names := slices.Sorted(maps.Keys(body))
	for _, name := range names {
		if err := t.ValidateActionInput(name, body[name].Input); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}

	out := make(thing.Metadata, len(names))
	for _, name := range names {
		a, err := t.PerformAction(name, body[name].Input)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		for k, v := range a.AsDescription() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	a, err := t.Action(chi.URLParam(r, "action"), chi.URLParam(r, "actionID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.AsDescription())
}

func (s *Server) handleRemoveAction(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	if err := t.RemoveAction(chi.URLParam(r, "action"), chi.URLParam(r, "actionID")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelAction records a cancel request and returns 202 with the
// current description. The action itself decides when to stop.
func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	a, err := t.Action(chi.URLParam(r, "action"), chi.URLParam(r, "actionID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := a.Cancel(); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.AsDescription())
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "event")
	if name != "" && !t.HasAvailableEvent(name) {
		writeNotFound(w, "event not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, t.EventDescriptions(name))
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// handleJournal pages through the thing's journaled actions.
//
// Query parameters: action, status, limit, offset.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		ThingID: t.ID(),
		Name:    q.Get("action"),
		Status:  q.Get("status"),
	}
	if filter.Status != "" && !validStatus(thing.ActionStatus(filter.Status)) {
		writeBadRequest(w, "unknown status: "+filter.Status)
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func validStatus(st thing.ActionStatus) bool {
	switch st {
	case thing.StatusCreated, thing.StatusPending, thing.StatusCompleted, thing.StatusError:
		return true
	}
	return false
}

// intParam parses an optional non-negative integer query value.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative")
	}
	return n, nil
}
