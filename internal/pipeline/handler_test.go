package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/recording"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/webhook"
)

type fakeCoordinator struct {
	mu     sync.Mutex
	calls  []string
	reason string
	err    error
}

func (f *fakeCoordinator) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeCoordinator) HandleExportActive(ctx context.Context, exportID string) error {
	return f.record("active:" + exportID)
}

func (f *fakeCoordinator) HandleExportEnding(ctx context.Context, exportID string) error {
	return f.record("ending:" + exportID)
}

func (f *fakeCoordinator) HandleExportComplete(ctx context.Context, exportID string) error {
	return f.record("complete:" + exportID)
}

func (f *fakeCoordinator) HandleExportFailed(ctx context.Context, exportID, reason string) error {
	f.reason = reason
	return f.record("failed:" + exportID)
}

type fakeRegistry struct {
	opened []string
	closed []string
	err    error
}

func (f *fakeRegistry) Open(ctx context.Context, roomID string) error {
	if f.err != nil {
		return f.err
	}
	f.opened = append(f.opened, roomID)
	return nil
}

func (f *fakeRegistry) Close(ctx context.Context, roomID string) error {
	if f.err != nil {
		return f.err
	}
	f.closed = append(f.closed, roomID)
	return nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) NotifyInBackground(event string, data any) {
	f.events = append(f.events, event)
}

func postEvent(t *testing.T, r *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/pipeline/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func newEventRouter(coord *fakeCoordinator, rooms *fakeRegistry, notifier *fakeNotifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(coord, rooms, notifier, nil)
	r := gin.New()
	r.POST("/internal/pipeline/events", h.Events)
	return r
}

func TestExportEventRouting(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{"export_active", "active:exp-1"},
		{"export_ending", "ending:exp-1"},
		{"export_complete", "complete:exp-1"},
		{"export_failed", "failed:exp-1"},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			coord := &fakeCoordinator{}
			r := newEventRouter(coord, &fakeRegistry{}, &fakeNotifier{})

			w := postEvent(t, r, map[string]string{"event": tt.event, "export_id": "exp-1", "reason": "why"})
			if w.Code != http.StatusOK {
				t.Fatalf("code = %d, want 200", w.Code)
			}
			if len(coord.calls) != 1 || coord.calls[0] != tt.want {
				t.Fatalf("calls = %v, want [%s]", coord.calls, tt.want)
			}
		})
	}
}

func TestExportFailedCarriesReason(t *testing.T) {
	coord := &fakeCoordinator{}
	r := newEventRouter(coord, &fakeRegistry{}, &fakeNotifier{})

	postEvent(t, r, map[string]string{"event": "export_failed", "export_id": "exp-1", "reason": "encoder crashed"})
	if coord.reason != "encoder crashed" {
		t.Fatalf("reason = %q", coord.reason)
	}
}

func TestRoomEventsEmitMeetingWebhooks(t *testing.T) {
	coord := &fakeCoordinator{}
	rooms := &fakeRegistry{}
	notifier := &fakeNotifier{}
	r := newEventRouter(coord, rooms, notifier)

	if w := postEvent(t, r, map[string]string{"event": "room_started", "room_id": "r1"}); w.Code != http.StatusOK {
		t.Fatalf("room_started: code = %d", w.Code)
	}
	if w := postEvent(t, r, map[string]string{"event": "room_finished", "room_id": "r1"}); w.Code != http.StatusOK {
		t.Fatalf("room_finished: code = %d", w.Code)
	}

	if len(rooms.opened) != 1 || rooms.opened[0] != "r1" {
		t.Fatalf("opened = %v", rooms.opened)
	}
	if len(rooms.closed) != 1 || rooms.closed[0] != "r1" {
		t.Fatalf("closed = %v", rooms.closed)
	}
	want := []string{webhook.EventMeetingStarted, webhook.EventMeetingEnded}
	if len(notifier.events) != 2 || notifier.events[0] != want[0] || notifier.events[1] != want[1] {
		t.Fatalf("events = %v, want %v", notifier.events, want)
	}
}

func TestEventValidation(t *testing.T) {
	coord := &fakeCoordinator{}
	r := newEventRouter(coord, &fakeRegistry{}, &fakeNotifier{})

	// export events need an export_id, room events a room_id
	if w := postEvent(t, r, map[string]string{"event": "export_active"}); w.Code != http.StatusBadRequest {
		t.Fatalf("export without id: code = %d, want 400", w.Code)
	}
	if w := postEvent(t, r, map[string]string{"event": "room_started"}); w.Code != http.StatusBadRequest {
		t.Fatalf("room without id: code = %d, want 400", w.Code)
	}
	if w := postEvent(t, r, map[string]string{"room_id": "r1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing event: code = %d, want 400", w.Code)
	}
	if len(coord.calls) != 0 {
		t.Fatalf("calls = %v, want none", coord.calls)
	}
}

func TestUnknownEventAcknowledged(t *testing.T) {
	coord := &fakeCoordinator{}
	r := newEventRouter(coord, &fakeRegistry{}, &fakeNotifier{})

	w := postEvent(t, r, map[string]string{"event": "participant_joined", "room_id": "r1"})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if len(coord.calls) != 0 {
		t.Fatalf("calls = %v, want none", coord.calls)
	}
}

func TestStoreOutageAsksForRetry(t *testing.T) {
	coord := &fakeCoordinator{err: recording.ErrStoreUnavailable}
	r := newEventRouter(coord, &fakeRegistry{}, &fakeNotifier{})

	w := postEvent(t, r, map[string]string{"event": "export_complete", "export_id": "exp-1"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
}

func TestRoomEventStoreOutageAsksForRetry(t *testing.T) {
	notifier := &fakeNotifier{}
	r := newEventRouter(&fakeCoordinator{}, &fakeRegistry{err: errors.New("connection refused")}, notifier)

	for _, event := range []string{"room_started", "room_finished"} {
		w := postEvent(t, r, map[string]string{"event": event, "room_id": "r1"})
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: code = %d, want 503", event, w.Code)
		}
	}
	if len(notifier.events) != 0 {
		t.Fatalf("events = %v, want none on failed room updates", notifier.events)
	}
}
