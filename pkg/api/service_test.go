package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/api/handlers"
	"github.com/atviriduomenys/spinta-sync/pkg/cursor"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cityModel = "datasets/gov/example/City"

var errClosed = errors.New("keymap is closed")

type mockStateReader struct {
	states []*pushstate.State
	err    error
}

func (m *mockStateReader) List(_ context.Context, remote string) ([]*pushstate.State, error) {
	var out []*pushstate.State

	for _, st := range m.states {
		if st.Remote == remote {
			out = append(out, st)
		}
	}

	return out, m.err
}

type mockKeymapReader struct {
	checkErr  error
	counts    map[string]int
	watermark map[string]time.Time
	cursors   map[string]int64
}

func (m *mockKeymapReader) Check() error {
	return m.checkErr
}

func (m *mockKeymapReader) Count(_ context.Context, model string) (int, error) {
	return m.counts[model], nil
}

func (m *mockKeymapReader) MaxModified(_ context.Context, model string) (time.Time, bool, error) {
	ts, ok := m.watermark[model]

	return ts, ok, nil
}

func (m *mockKeymapReader) SyncCursor(_ context.Context, model string) (int64, error) {
	return m.cursors[model], nil
}

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()

	m, err := manifest.Load([]manifest.Row{
		{Dataset: "datasets/gov/example"},
		{Model: "City", Ref: "id"},
		{Property: "id", Type: "integer"},
		{Property: "name", Type: "string"},
	})
	require.NoError(t, err)

	return m
}

func doRequest(t *testing.T, h *handlers.Server, path string) (int, map[string]any) {
	t.Helper()

	resp, err := NewApp(h).Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(body, &out))
	}

	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{name: "healthy", status: http.StatusOK, want: "ok"},
		{name: "keymap unavailable", err: errClosed, status: http.StatusServiceUnavailable, want: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewServer("prod", nil, nil, &mockKeymapReader{checkErr: tt.err}, logrus.New())

			status, body := doRequest(t, h, "/healthz")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.want, body["status"])
		})
	}
}

func TestListPushState(t *testing.T) {
	cur := cursor.New(cityModel, []string{"id"}, 100)
	require.NoError(t, cur.Advance([]any{int64(100)}, 100))

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := &mockStateReader{states: []*pushstate.State{
		{Remote: "prod", Model: cityModel, Cursor: cur, LastRevision: "r1", UpdatedAt: updated},
		{Remote: "test", Model: cityModel},
	}}

	h := handlers.NewServer("prod", testManifest(t), state, &mockKeymapReader{}, logrus.New())

	status, body := doRequest(t, h, "/api/v1/push-state")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "prod", body["remote"])
	assert.InDelta(t, 1, body["total"], 0)

	models, ok := body["models"].([]any)
	require.True(t, ok)
	require.Len(t, models, 1)

	city, ok := models[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, cityModel, city["model"])
	assert.Equal(t, "paging", city["state"])
	assert.Equal(t, "r1", city["last_revision"])
	assert.Equal(t, "2024-05-01T12:00:00Z", city["updated_at"])
}

func TestListPushStateWithoutStore(t *testing.T) {
	h := handlers.NewServer("prod", nil, nil, &mockKeymapReader{}, logrus.New())

	status, body := doRequest(t, h, "/api/v1/push-state")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "push state is not available", body["error"])
}

func TestGetKeymap(t *testing.T) {
	watermark := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	km := &mockKeymapReader{
		counts:    map[string]int{cityModel: 42},
		watermark: map[string]time.Time{cityModel: watermark},
		cursors:   map[string]int64{cityModel: 7},
	}

	h := handlers.NewServer("prod", testManifest(t), nil, km, logrus.New())

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "known model", path: "/api/v1/keymap/" + cityModel, status: http.StatusOK},
		{name: "unknown model", path: "/api/v1/keymap/datasets/gov/example/Street", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, h, tt.path)
			require.Equal(t, tt.status, status)

			if status != http.StatusOK {
				assert.Equal(t, "model not found", body["error"])
				return
			}

			assert.Equal(t, cityModel, body["model"])
			assert.InDelta(t, 42, body["entries"], 0)
			assert.InDelta(t, 7, body["sync_cursor"], 0)
			assert.Equal(t, "2024-05-01T12:00:00Z", body["watermark"])
		})
	}
}

func TestListModels(t *testing.T) {
	h := handlers.NewServer("prod", testManifest(t), nil, &mockKeymapReader{}, logrus.New())

	status, body := doRequest(t, h, "/api/v1/models?dataset=datasets/gov")
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["total"], 0)

	status, body = doRequest(t, h, "/api/v1/models?dataset=datasets/other")
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0, body["total"], 0)
}

func TestMetricsRoute(t *testing.T) {
	h := handlers.NewServer("prod", nil, nil, &mockKeymapReader{}, logrus.New())

	status, _ := doRequest(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, status)
}

func TestDisabledServiceDoesNotListen(t *testing.T) {
	h := handlers.NewServer("prod", nil, nil, &mockKeymapReader{}, logrus.New())
	svc := NewService(&Config{Enabled: false}, h, logrus.New())

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "disabled", cfg: Config{}},
		{name: "enabled", cfg: Config{Enabled: true, Addr: ":8080"}},
		{name: "enabled without address", cfg: Config{Enabled: true}, wantErr: ErrAPIAddrRequired},
		{name: "negative shutdown timeout", cfg: Config{ShutdownTimeout: -time.Second}, wantErr: ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigTimeoutFallback(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 10*time.Second, cfg.readHeaderTimeout())
	assert.Equal(t, 10*time.Second, cfg.shutdownTimeout())

	cfg = &Config{ReadHeaderTimeout: time.Second, ShutdownTimeout: 2 * time.Second}
	assert.Equal(t, time.Second, cfg.readHeaderTimeout())
	assert.Equal(t, 2*time.Second, cfg.shutdownTimeout())
}

func TestErrorHandlerCarriesCode(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/fail", func(fiber.Ctx) error {
		return errcode.Errorf(errcode.InvalidQuery, "bad query")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "InvalidQuery", body["code"])
	assert.Equal(t, "bad query", body["error"])
}
