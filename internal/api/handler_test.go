package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/engine"
	"github.com/projectpulse/beacon/internal/notify"
)

var errEngineDown = errors.New("engine failure")

// mockEngine is a fake notification engine for handler tests.
type mockEngine struct {
	notifications map[uuid.UUID]*notify.Notification
	channels      notify.ChannelSet

	createCalled bool
	lastAction   string

	shouldFail bool
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		notifications: make(map[uuid.UUID]*notify.Notification),
		channels:      notify.ChannelSet{notify.ChannelInApp: true, notify.ChannelPush: true},
	}
}

func (m *mockEngine) Create(ctx context.Context, req notify.CreateRequest) (*notify.Notification, notify.ChannelSet, error) {
	m.createCalled = true
	if m.shouldFail {
		return nil, nil, errEngineDown
	}
	n, err := notify.Classify(req, time.Now())
	if err != nil {
		return nil, nil, err
	}
	m.notifications[n.ID] = n
	return n, m.channels, nil
}

func (m *mockEngine) Get(ctx context.Context, id uuid.UUID) (*notify.Notification, error) {
	if m.shouldFail {
		return nil, errEngineDown
	}
	n, ok := m.notifications[id]
	if !ok {
		return nil, notify.ErrNotFound
	}
	return n, nil
}

func (m *mockEngine) transition(action string, id uuid.UUID) error {
	m.lastAction = action
	if m.shouldFail {
		return errEngineDown
	}
	if _, ok := m.notifications[id]; !ok {
		return notify.ErrNotFound
	}
	return nil
}

func (m *mockEngine) MarkRead(ctx context.Context, id uuid.UUID) error   { return m.transition("read", id) }
func (m *mockEngine) MarkUnread(ctx context.Context, id uuid.UUID) error { return m.transition("unread", id) }
func (m *mockEngine) Pin(ctx context.Context, id uuid.UUID) error        { return m.transition("pin", id) }
func (m *mockEngine) Unpin(ctx context.Context, id uuid.UUID) error      { return m.transition("unpin", id) }
func (m *mockEngine) Archive(ctx context.Context, id uuid.UUID) error    { return m.transition("archive", id) }
func (m *mockEngine) Unarchive(ctx context.Context, id uuid.UUID) error  { return m.transition("unarchive", id) }

func (m *mockEngine) Delete(ctx context.Context, id uuid.UUID) error {
	if err := m.transition("delete", id); err != nil {
		return err
	}
	delete(m.notifications, id)
	return nil
}

func (m *mockEngine) Feed(ctx context.Context, recipientID string, q engine.FeedQuery) *engine.Snapshot {
	var list []*notify.Notification
	for _, n := range m.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if q == engine.FeedDefault && n.IsArchived {
			continue
		}
		if q == engine.FeedArchived && !n.IsArchived {
			continue
		}
		list = append(list, n)
	}
	return &engine.Snapshot{
		RecipientID:   recipientID,
		Notifications: list,
		Stats:         engine.NewStats(),
	}
}

func (m *mockEngine) StatsFor(ctx context.Context, recipientID string) *engine.Stats {
	stats := engine.NewStats()
	for _, n := range m.notifications {
		if n.RecipientID == recipientID {
			stats.Total++
		}
	}
	return stats
}

func (m *mockEngine) Subscribe(ctx context.Context, recipientID string) *engine.Subscriber {
	return nil
}

// mockPrefs is a fake settings store.
type mockPrefs struct {
	settings   map[string]*notify.Settings
	shouldFail bool
}

func newMockPrefs() *mockPrefs {
	return &mockPrefs{settings: make(map[string]*notify.Settings)}
}

func (m *mockPrefs) Get(ctx context.Context, recipientID string) (*notify.Settings, error) {
	if m.shouldFail {
		return nil, errEngineDown
	}
	if s, ok := m.settings[recipientID]; ok {
		return s.Clone(), nil
	}
	return notify.DefaultSettings(), nil
}

func (m *mockPrefs) Update(ctx context.Context, recipientID string, patch *notify.SettingsPatch) (*notify.Settings, error) {
	if m.shouldFail {
		return nil, errEngineDown
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	s, ok := m.settings[recipientID]
	if !ok {
		s = notify.DefaultSettings()
	}
	patch.Apply(s)
	m.settings[recipientID] = s
	return s.Clone(), nil
}

func TestCreateNotification(t *testing.T) {
	tests := []struct {
		checkResponse  func(*testing.T, *httptest.ResponseRecorder)
		requestBody    interface{}
		name           string
		expectedStatus int
		failEngine     bool
	}{
		{
			name: "valid notification",
			requestBody: notify.CreateRequest{
				Title:       "Task assigned",
				Message:     "You were assigned a task",
				Type:        notify.TypeTask,
				RecipientID: "user-1",
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp CreateResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if _, err := uuid.Parse(resp.ID); err != nil {
					t.Errorf("expected valid UUID, got: %s", resp.ID)
				}
				if len(resp.Channels) == 0 {
					t.Error("expected decided channels in response")
				}
			},
		},
		{
			name: "missing title",
			requestBody: notify.CreateRequest{
				Message:     "no title",
				Type:        notify.TypeInfo,
				RecipientID: "user-1",
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var errResp ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
					t.Fatalf("failed to decode error response: %v", err)
				}
				if errResp.Status != 400 {
					t.Errorf("expected status 400, got %d", errResp.Status)
				}
			},
		},
		{
			name: "unknown type",
			requestBody: notify.CreateRequest{
				Title:       "Hello",
				Message:     "World",
				Type:        notify.Type("carrier_pigeon"),
				RecipientID: "user-1",
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse:  func(t *testing.T, rec *httptest.ResponseRecorder) {},
		},
		{
			name:           "invalid JSON body",
			requestBody:    "not valid json",
			expectedStatus: http.StatusBadRequest,
			checkResponse:  func(t *testing.T, rec *httptest.ResponseRecorder) {},
		},
		{
			name: "engine failure",
			requestBody: notify.CreateRequest{
				Title:       "Task assigned",
				Message:     "You were assigned a task",
				Type:        notify.TypeTask,
				RecipientID: "user-1",
			},
			failEngine:     true,
			expectedStatus: http.StatusInternalServerError,
			checkResponse:  func(t *testing.T, rec *httptest.ResponseRecorder) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newMockEngine()
			eng.shouldFail = tt.failEngine
			handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

			var body []byte
			var err error
			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, err = json.Marshal(tt.requestBody)
				if err != nil {
					t.Fatalf("failed to marshal request: %v", err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/notifications", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handler.CreateNotification(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
				t.Logf("Response body: %s", rec.Body.String())
			}

			tt.checkResponse(t, rec)

			if tt.expectedStatus == http.StatusCreated && !eng.createCalled {
				t.Error("expected Create to be called on engine")
			}
		})
	}
}

func seedNotification(eng *mockEngine, recipientID string) *notify.Notification {
	n, _ := notify.Classify(notify.CreateRequest{
		Title:       "Build finished",
		Message:     "Pipeline green",
		Type:        notify.TypeSuccess,
		RecipientID: recipientID,
	}, time.Now())
	eng.notifications[n.ID] = n
	return n
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetNotification(t *testing.T) {
	eng := newMockEngine()
	n := seedNotification(eng, "user-1")
	handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

	tests := []struct {
		name           string
		notificationID string
		expectedStatus int
	}{
		{"exists", n.ID.String(), http.StatusOK},
		{"not found", uuid.NewString(), http.StatusNotFound},
		{"invalid UUID", "not-a-uuid", http.StatusBadRequest},
		{"empty ID", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/notifications/"+tt.notificationID, nil)
			req = withURLParam(req, "id", tt.notificationID)
			rec := httptest.NewRecorder()

			handler.GetNotification(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	actions := []string{"read", "unread", "pin", "unpin", "archive", "unarchive"}

	for _, action := range actions {
		t.Run(action, func(t *testing.T) {
			eng := newMockEngine()
			n := seedNotification(eng, "user-1")
			handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

			req := httptest.NewRequest(http.MethodPost, "/v1/notifications/"+n.ID.String()+"/"+action, nil)
			req = withURLParam(req, "id", n.ID.String())
			rec := httptest.NewRecorder()

			handler.lifecycle(action)(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if eng.lastAction != action {
				t.Errorf("expected engine action %q, got %q", action, eng.lastAction)
			}

			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != action {
				t.Errorf("expected status %q in response, got %q", action, resp["status"])
			}
		})

		t.Run(action+" not found", func(t *testing.T) {
			eng := newMockEngine()
			handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

			id := uuid.NewString()
			req := httptest.NewRequest(http.MethodPost, "/v1/notifications/"+id+"/"+action, nil)
			req = withURLParam(req, "id", id)
			rec := httptest.NewRecorder()

			handler.lifecycle(action)(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Errorf("expected status 404, got %d", rec.Code)
			}
		})
	}
}

func TestDeleteNotification(t *testing.T) {
	eng := newMockEngine()
	n := seedNotification(eng, "user-1")
	handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

	req := httptest.NewRequest(http.MethodDelete, "/v1/notifications/"+n.ID.String(), nil)
	req = withURLParam(req, "id", n.ID.String())
	rec := httptest.NewRecorder()

	handler.DeleteNotification(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if _, ok := eng.notifications[n.ID]; ok {
		t.Error("expected notification removed from engine")
	}

	// Deleting again answers 404
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/notifications/"+n.ID.String(), nil)
	req = withURLParam(req, "id", n.ID.String())

	handler.DeleteNotification(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestGetFeed(t *testing.T) {
	eng := newMockEngine()
	seedNotification(eng, "user-1")
	archived := seedNotification(eng, "user-1")
	archived.IsArchived = true
	handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

	tests := []struct {
		name           string
		include        string
		expectedStatus int
		expectedCount  int
	}{
		{"default excludes archived", "", http.StatusOK, 1},
		{"archived only", "archived", http.StatusOK, 1},
		{"all", "all", http.StatusOK, 2},
		{"invalid include", "everything", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/v1/recipients/user-1/feed"
			if tt.include != "" {
				url += "?include=" + tt.include
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			req = withURLParam(req, "recipientID", "user-1")
			rec := httptest.NewRecorder()

			handler.GetFeed(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var snap engine.Snapshot
			if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
				t.Fatalf("failed to decode snapshot: %v", err)
			}
			if len(snap.Notifications) != tt.expectedCount {
				t.Errorf("expected %d notifications, got %d", tt.expectedCount, len(snap.Notifications))
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	eng := newMockEngine()
	seedNotification(eng, "user-1")
	seedNotification(eng, "user-1")
	handler := NewHandler(zap.NewNop(), eng, newMockPrefs())

	req := httptest.NewRequest(http.MethodGet, "/v1/recipients/user-1/stats", nil)
	req = withURLParam(req, "recipientID", "user-1")
	rec := httptest.NewRecorder()

	handler.GetStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var stats engine.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	prefs := newMockPrefs()
	handler := NewHandler(zap.NewNop(), newMockEngine(), prefs)

	// Defaults on first read
	req := httptest.NewRequest(http.MethodGet, "/v1/recipients/user-1/settings", nil)
	req = withURLParam(req, "recipientID", "user-1")
	rec := httptest.NewRecorder()

	handler.GetSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var settings notify.Settings
	if err := json.NewDecoder(rec.Body).Decode(&settings); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	if settings.EmailNotifications {
		t.Error("expected email disabled by default")
	}
	if !settings.PushNotifications {
		t.Error("expected push enabled by default")
	}

	// Patch email on
	body := []byte(`{"email_notifications":true,"quiet_hours":{"enabled":true,"start":"23:00"}}`)
	req = httptest.NewRequest(http.MethodPatch, "/v1/recipients/user-1/settings", bytes.NewReader(body))
	req = withURLParam(req, "recipientID", "user-1")
	rec = httptest.NewRecorder()

	handler.UpdateSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&settings); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	if !settings.EmailNotifications {
		t.Error("expected email enabled after patch")
	}
	if !settings.QuietHours.Enabled || settings.QuietHours.Start != "23:00" {
		t.Errorf("expected quiet hours merged, got %+v", settings.QuietHours)
	}
	if settings.QuietHours.End != "08:00" {
		t.Errorf("expected untouched quiet hours end, got %q", settings.QuietHours.End)
	}

	// Invalid clock rejected
	body = []byte(`{"quiet_hours":{"start":"25:99"}}`)
	req = httptest.NewRequest(http.MethodPatch, "/v1/recipients/user-1/settings", bytes.NewReader(body))
	req = withURLParam(req, "recipientID", "user-1")
	rec = httptest.NewRecorder()

	handler.UpdateSettings(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}
