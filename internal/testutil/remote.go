package testutil

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/google/uuid"
)

// FakeRemote is an in-memory Spinta-compatible service
type FakeRemote struct {
	Server *httptest.Server

	mu       sync.Mutex
	rows     map[string]map[string]map[string]any
	changes  map[string][]remote.Change
	cid      int64
	denied   map[string]int
	failures []int
	pushes   map[string][][]remote.Payload
	tokens   int
}

// NewFakeRemote starts a fake remote closed when the test completes
func NewFakeRemote(t *testing.T) *FakeRemote {
	t.Helper()

	f := &FakeRemote{
		rows:    make(map[string]map[string]map[string]any),
		changes: make(map[string][]remote.Change),
		denied:  make(map[string]int),
		pushes:  make(map[string][][]remote.Payload),
	}

	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)

	return f
}

// URL returns the base URL of the fake
func (f *FakeRemote) URL() string {
	return f.Server.URL
}

// Deny makes every request for a model fail with status
func (f *FakeRemote) Deny(model string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.denied[model] = status
}

// FailNext makes the next requests fail with the given statuses, in order
func (f *FakeRemote) FailNext(statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures = append(f.failures, statuses...)
}

// Row returns a stored row
func (f *FakeRemote) Row(model, id string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[model][id]

	return maps.Clone(row), ok
}

// Rows returns every stored row of a model keyed by _id
func (f *FakeRemote) Rows(model string) map[string]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]map[string]any, len(f.rows[model]))
	for id, row := range f.rows[model] {
		out[id] = maps.Clone(row)
	}

	return out
}

// Pushes returns every batch received for a model
func (f *FakeRemote) Pushes(model string) [][]remote.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]remote.Payload(nil), f.pushes[model]...)
}

// Tokens returns how many tokens were issued
func (f *FakeRemote) Tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.tokens
}

// AddChange appends a changelog record, assigning its _cid
func (f *FakeRemote) AddChange(model string, change remote.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.appendChange(model, change)
}

// SetRevision overwrites the stored revision of a row, simulating a concurrent writer
func (f *FakeRemote) SetRevision(model, id, revision string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if row, ok := f.rows[model][id]; ok {
		row["_revision"] = revision
	}
}

func (f *FakeRemote) appendChange(model string, change remote.Change) {
	f.cid++
	change.CID = f.cid

	if change.Created.IsZero() {
		change.Created = time.Now().UTC()
	}

	f.changes[model] = append(f.changes[model], change)
}

func (f *FakeRemote) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/auth/token" {
		f.tokens++
		writeJSON(w, http.StatusOK, map[string]any{"access_token": fmt.Sprintf("token-%d", f.tokens), "token_type": "bearer", "expires_in": 3600})

		return
	}

	if len(f.failures) > 0 {
		status := f.failures[0]
		f.failures = f.failures[1:]

		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}

		writeError(w, status, injectedCode(status), "injected failure")

		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")

	switch {
	case r.Method == http.MethodDelete && strings.HasSuffix(path, "/:wipe"):
		model := strings.TrimSuffix(path, "/:wipe")
		if f.deny(w, model) {
			return
		}

		delete(f.rows, model)
		delete(f.changes, model)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && strings.Contains(path, "/:changes/"):
		parts := strings.SplitN(path, "/:changes/", 2)
		if f.deny(w, parts[0]) {
			return
		}

		f.serveChanges(w, r, parts[0], parts[1])
	case r.Method == http.MethodGet:
		idx := strings.LastIndex(path, "/")
		model, id := path[:idx], path[idx+1:]

		if f.deny(w, model) {
			return
		}

		row, ok := f.rows[model][id]
		if !ok {
			writeError(w, http.StatusNotFound, "ItemDoesNotExist", "no such item "+id)
			return
		}

		writeJSON(w, http.StatusOK, row)
	case r.Method == http.MethodPost:
		if f.deny(w, path) {
			return
		}

		f.servePush(w, r, path)
	default:
		writeError(w, http.StatusMethodNotAllowed, "InvalidOperandValue", "unsupported request")
	}
}

func (f *FakeRemote) deny(w http.ResponseWriter, model string) bool {
	status, ok := f.denied[model]
	if !ok {
		return false
	}

	code := "Forbidden"
	if status == http.StatusUnauthorized {
		code = "AuthorizedClientsOnly"
	}

	writeError(w, status, code, "access denied to "+model)

	return true
}

func (f *FakeRemote) serveChanges(w http.ResponseWriter, r *http.Request, model, rawCID string) {
	cid, err := strconv.ParseInt(rawCID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidOperandValue", "bad cid")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidOperandValue", "bad limit")
			return
		}
	}

	out := []remote.Change{}

	for _, change := range f.changes[model] {
		if change.CID >= cid && len(out) < limit {
			out = append(out, change)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"_data": out})
}

func (f *FakeRemote) servePush(w http.ResponseWriter, r *http.Request, model string) {
	var body struct {
		Data []remote.Payload `json:"_data"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidOperandValue", err.Error())
		return
	}

	f.pushes[model] = append(f.pushes[model], body.Data)

	if f.rows[model] == nil {
		f.rows[model] = make(map[string]map[string]any)
	}

	results := make([]remote.Result, 0, len(body.Data))

	for _, p := range body.Data {
		results = append(results, f.apply(model, p))
	}

	writeJSON(w, http.StatusOK, map[string]any{"_data": results})
}

func (f *FakeRemote) apply(model string, p remote.Payload) remote.Result {
	existing, exists := f.rows[model][p.ID]

	switch p.Op {
	case remote.OpInsert:
		if exists {
			return rowError(p.ID, http.StatusBadRequest, "UniqueConstraint", "row already exists")
		}
	case remote.OpUpsert, remote.OpPatch:
		if exists && p.Revision != "" && existing["_revision"] != p.Revision {
			return rowError(p.ID, http.StatusConflict, "ConflictingRevision", "revision does not match")
		}
	case remote.OpDelete:
		if !exists {
			return rowError(p.ID, http.StatusNotFound, "ItemDoesNotExist", "no such item")
		}

		delete(f.rows[model], p.ID)
		f.appendChange(model, remote.Change{ID: p.ID, Revision: p.Revision, Op: p.Op})

		return remote.Result{ID: p.ID, Revision: p.Revision, Status: http.StatusOK}
	default:
		return rowError(p.ID, http.StatusBadRequest, "InvalidOperandValue", "unknown operation "+p.Op)
	}

	row := map[string]any{"_id": p.ID, "_type": model}
	if p.Op == remote.OpPatch && exists {
		row = maps.Clone(existing)
	}

	maps.Copy(row, p.Data())

	revision := uuid.NewString()
	row["_revision"] = revision
	f.rows[model][p.ID] = row

	f.appendChange(model, remote.Change{ID: p.ID, Revision: revision, Op: p.Op, Data: p.Data()})

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}

	return remote.Result{ID: p.ID, Revision: revision, Status: status}
}

func injectedCode(status int) string {
	switch status {
	case http.StatusConflict:
		return "ConflictingRevision"
	case http.StatusTooManyRequests:
		return "RateLimited"
	default:
		return "ServiceNotAvailable"
	}
}

func rowError(id string, status int, code, message string) remote.Result {
	return remote.Result{ID: id, Status: status, Errors: []remote.ErrorItem{{Code: code, Message: message}}}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"errors": []remote.ErrorItem{{Code: code, Message: message}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
