package recording

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

type fakeArtifactStore struct {
	url       string
	deleted   []string
	deleteErr error
}

func (f *fakeArtifactStore) PresignDownload(ctx context.Context, key string) (string, time.Duration, error) {
	return f.url + key, 15 * time.Minute, nil
}

func (f *fakeArtifactStore) DeleteArtifact(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestRouter(f *fixture, artifacts ArtifactStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.coordinator, f.store, artifacts, nil)
	r := gin.New()
	r.POST("/api/rooms/:roomId/recordings", h.Start)
	r.GET("/api/rooms/:roomId/recordings", h.ListByRoom)
	r.GET("/api/recordings/:recordingId", h.Get)
	r.POST("/api/recordings/:recordingId/stop", h.Stop)
	r.GET("/api/recordings/:recordingId/download-url", h.DownloadURL)
	r.DELETE("/api/recordings/:recordingId", h.Delete)
	return r
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestStartEndpointStatusCodes(t *testing.T) {
	f := newFixture("r1")
	r := newTestRouter(f, nil)

	if w := doRequest(r, http.MethodPost, "/api/rooms/r1/recordings"); w.Code != http.StatusOK {
		t.Fatalf("start open room: code = %d, want 200", w.Code)
	}
	// second start on the same room conflicts
	if w := doRequest(r, http.MethodPost, "/api/rooms/r1/recordings"); w.Code != http.StatusConflict {
		t.Fatalf("double start: code = %d, want 409", w.Code)
	}
	// unknown room
	if w := doRequest(r, http.MethodPost, "/api/rooms/ghost/recordings"); w.Code != http.StatusNotFound {
		t.Fatalf("closed room: code = %d, want 404", w.Code)
	}
}

func TestStartEndpointPipelineDown(t *testing.T) {
	f := newFixture("r1")
	f.pipeline.startErr = errors.New("connection refused")
	r := newTestRouter(f, nil)

	if w := doRequest(r, http.MethodPost, "/api/rooms/r1/recordings"); w.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502", w.Code)
	}
}

func TestStopEndpointStatusCodes(t *testing.T) {
	f := newFixture("r1")
	r := newTestRouter(f, nil)
	ctx := context.Background()

	rec, err := f.coordinator.Start(ctx, "r1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if w := doRequest(r, http.MethodPost, "/api/recordings/"+rec.ID.String()+"/stop"); w.Code != http.StatusConflict {
		t.Fatalf("stop while starting: code = %d, want 409", w.Code)
	}

	f.coordinator.HandleExportActive(ctx, rec.ExportID)
	if w := doRequest(r, http.MethodPost, "/api/recordings/"+rec.ID.String()+"/stop"); w.Code != http.StatusOK {
		t.Fatalf("stop active: code = %d, want 200", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/recordings/"+rec.ID.String()+"/stop"); w.Code != http.StatusConflict {
		t.Fatalf("stop stopped: code = %d, want 409", w.Code)
	}

	if w := doRequest(r, http.MethodPost, "/api/recordings/"+uuid.NewString()+"/stop"); w.Code != http.StatusNotFound {
		t.Fatalf("stop unknown: code = %d, want 404", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/recordings/not-a-uuid/stop"); w.Code != http.StatusBadRequest {
		t.Fatalf("stop bad id: code = %d, want 400", w.Code)
	}
}

func TestDownloadURLEndpoint(t *testing.T) {
	f := newFixture("r1")
	artifacts := &fakeArtifactStore{url: "https://cdn.example.com/"}
	r := newTestRouter(f, artifacts)
	ctx := context.Background()

	rec, _ := f.coordinator.Start(ctx, "r1")
	path := "/api/recordings/" + rec.ID.String() + "/download-url"

	// not complete yet
	if w := doRequest(r, http.MethodGet, path); w.Code != http.StatusConflict {
		t.Fatalf("download in-flight: code = %d, want 409", w.Code)
	}

	f.coordinator.HandleExportActive(ctx, rec.ExportID)
	f.coordinator.Stop(ctx, rec.ID)
	f.coordinator.HandleExportComplete(ctx, rec.ExportID)

	// complete but metadata not collected yet
	if w := doRequest(r, http.MethodGet, path); w.Code != http.StatusNotFound {
		t.Fatalf("download before metadata: code = %d, want 404", w.Code)
	}

	key := "recordings/r1/" + rec.ExportID + ".mp4"
	f.store.setArtifact(rec.ID, key)
	w := doRequest(r, http.MethodGet, path)
	if w.Code != http.StatusOK {
		t.Fatalf("download complete: code = %d, want 200", w.Code)
	}
	var body struct {
		Data struct {
			DownloadURL string `json:"download_url"`
			ExpiresIn   int    `json:"expires_in"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.DownloadURL != "https://cdn.example.com/"+key {
		t.Fatalf("download_url = %q", body.Data.DownloadURL)
	}
	if body.Data.ExpiresIn != int((15 * time.Minute).Seconds()) {
		t.Fatalf("expires_in = %d", body.Data.ExpiresIn)
	}
}

func TestDownloadURLWithoutArtifactStore(t *testing.T) {
	f := newFixture("r1")
	r := newTestRouter(f, nil)
	ctx := context.Background()

	rec, _ := f.coordinator.Start(ctx, "r1")
	f.coordinator.HandleExportActive(ctx, rec.ExportID)
	f.coordinator.Stop(ctx, rec.ID)
	f.coordinator.HandleExportComplete(ctx, rec.ExportID)
	f.store.setArtifact(rec.ID, "recordings/r1/x.mp4")

	w := doRequest(r, http.MethodGet, "/api/recordings/"+rec.ID.String()+"/download-url")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	f := newFixture("r1")
	artifacts := &fakeArtifactStore{}
	r := newTestRouter(f, artifacts)
	ctx := context.Background()

	rec, _ := f.coordinator.Start(ctx, "r1")
	path := "/api/recordings/" + rec.ID.String()

	// in-flight recordings cannot be deleted
	if w := doRequest(r, http.MethodDelete, path); w.Code != http.StatusConflict {
		t.Fatalf("delete in-flight: code = %d, want 409", w.Code)
	}

	f.coordinator.HandleExportActive(ctx, rec.ExportID)
	f.coordinator.Stop(ctx, rec.ID)
	f.coordinator.HandleExportComplete(ctx, rec.ExportID)
	key := "recordings/r1/" + rec.ExportID + ".mp4"
	f.store.setArtifact(rec.ID, key)

	if w := doRequest(r, http.MethodDelete, path); w.Code != http.StatusNoContent {
		t.Fatalf("delete complete: code = %d, want 204", w.Code)
	}
	if len(artifacts.deleted) != 1 || artifacts.deleted[0] != key {
		t.Fatalf("deleted artifacts = %v, want [%s]", artifacts.deleted, key)
	}
	if got, _ := f.store.Get(ctx, rec.ID); got != nil {
		t.Fatal("record survived deletion")
	}
	if w := doRequest(r, http.MethodDelete, path); w.Code != http.StatusNotFound {
		t.Fatalf("delete again: code = %d, want 404", w.Code)
	}
}

func TestDeleteKeepsRowWhenArtifactRemovalFails(t *testing.T) {
	f := newFixture("r1")
	artifacts := &fakeArtifactStore{deleteErr: errors.New("access denied")}
	r := newTestRouter(f, artifacts)
	ctx := context.Background()

	rec, _ := f.coordinator.Start(ctx, "r1")
	f.coordinator.HandleExportActive(ctx, rec.ExportID)
	f.coordinator.Stop(ctx, rec.ID)
	f.coordinator.HandleExportComplete(ctx, rec.ExportID)
	f.store.setArtifact(rec.ID, "recordings/r1/x.mp4")

	w := doRequest(r, http.MethodDelete, "/api/recordings/"+rec.ID.String())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", w.Code)
	}
	if got, _ := f.store.Get(ctx, rec.ID); got == nil {
		t.Fatal("record deleted despite failed artifact removal")
	}
}

func TestGetAndListEndpoints(t *testing.T) {
	f := newFixture("r1")
	r := newTestRouter(f, nil)
	ctx := context.Background()

	rec, _ := f.coordinator.Start(ctx, "r1")

	if w := doRequest(r, http.MethodGet, "/api/recordings/"+rec.ID.String()); w.Code != http.StatusOK {
		t.Fatalf("get: code = %d, want 200", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/recordings/"+uuid.NewString()); w.Code != http.StatusNotFound {
		t.Fatalf("get unknown: code = %d, want 404", w.Code)
	}

	w := doRequest(r, http.MethodGet, "/api/rooms/r1/recordings")
	if w.Code != http.StatusOK {
		t.Fatalf("list: code = %d, want 200", w.Code)
	}
	var body struct {
		Data []models.Recording `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != rec.ID {
		t.Fatalf("list = %+v, want the one record", body.Data)
	}
}
