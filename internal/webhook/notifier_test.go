package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

type fakeSettings struct {
	settings models.WebhookSettings
	err      error
}

func (f *fakeSettings) Current(ctx context.Context) (models.WebhookSettings, error) {
	return f.settings, f.err
}

type fakeKeys struct {
	key string
	err error
}

func (f *fakeKeys) SigningKey(ctx context.Context) (string, error) { return f.key, f.err }

func newTestNotifier(url, key string) (*Notifier, *[]time.Duration) {
	n := NewNotifier(&fakeSettings{settings: models.WebhookSettings{Enabled: true, URL: url}}, &fakeKeys{key: key}, nil)
	var slept []time.Duration
	n.sleep = func(d time.Duration) { slept = append(slept, d) }
	return n, &slept
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		300 * time.Millisecond,
		600 * time.Millisecond,
		1200 * time.Millisecond,
		2400 * time.Millisecond,
		4800 * time.Millisecond,
	}
	for i, w := range want {
		if got := backoffDelay(i); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDeliveryRetriesThenDrops(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, slept := newTestNotifier(srv.URL, "secret")
	n.deliver(context.Background(), EventRecordingEnded, map[string]string{"room_id": "r1"})

	mu.Lock()
	defer mu.Unlock()
	if attempts != 6 {
		t.Fatalf("attempts = %d, want 6 (1 initial + 5 retries)", attempts)
	}
	want := []time.Duration{300, 600, 1200, 2400, 4800}
	if len(*slept) != len(want) {
		t.Fatalf("slept %d times, want %d: %v", len(*slept), len(want), *slept)
	}
	for i, ms := range want {
		if (*slept)[i] != ms*time.Millisecond {
			t.Errorf("delay %d = %v, want %vms", i, (*slept)[i], ms)
		}
	}
}

func TestDeliveryStopsAfterSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, slept := newTestNotifier(srv.URL, "secret")
	n.deliver(context.Background(), EventRecordingStarted, nil)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}
}

// receiver-side verification: recompute the HMAC from the timestamp header
// and the raw body, exactly as published webhook consumers do.
func TestDeliverySignatureVerifiable(t *testing.T) {
	const secret = "meet-api-key-1"
	type captured struct {
		body      []byte
		signature string
		timestamp string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{body: body, signature: r.Header.Get("X-Signature"), timestamp: r.Header.Get("X-Timestamp")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, _ := newTestNotifier(srv.URL, secret)
	n.deliver(context.Background(), EventRecordingEnded, map[string]string{"room_id": "r1"})

	c := <-got
	if c.signature == "" || c.timestamp == "" {
		t.Fatal("missing signature or timestamp header")
	}
	if _, err := strconv.ParseInt(c.timestamp, 10, 64); err != nil {
		t.Fatalf("timestamp header not unix millis: %q", c.timestamp)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(c.timestamp))
	mac.Write([]byte("."))
	mac.Write(c.body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(c.signature), []byte(want)) {
		t.Fatalf("signature = %s, want %s", c.signature, want)
	}

	var ev Event
	if err := json.Unmarshal(c.body, &ev); err != nil {
		t.Fatalf("body not an event envelope: %v", err)
	}
	if ev.Event != EventRecordingEnded || ev.CreationDate == 0 {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
}

func TestDeliverySkippedWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent despite disabled webhooks")
	}))
	defer srv.Close()

	n := NewNotifier(&fakeSettings{settings: models.WebhookSettings{Enabled: false, URL: srv.URL}}, &fakeKeys{key: "secret"}, nil)
	n.sleep = func(time.Duration) {}
	n.deliver(context.Background(), EventRecordingStarted, nil)
}

func TestDeliveryDroppedWithoutSigningKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unsigned payload was sent")
	}))
	defer srv.Close()

	n, _ := newTestNotifier(srv.URL, "")
	n.deliver(context.Background(), EventRecordingStarted, nil)
}

func TestNotifyInBackgroundAndClose(t *testing.T) {
	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, _ := newTestNotifier(srv.URL, "secret")
	n.NotifyInBackground(EventMeetingStarted, map[string]string{"room_id": "r1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("Close returned before delivery finished")
	}
}

func TestTestURL(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	n, _ := newTestNotifier(ok.URL, "secret")
	if err := n.TestURL(context.Background(), ok.URL); err != nil {
		t.Fatalf("TestURL(ok): %v", err)
	}
	if err := n.TestURL(context.Background(), bad.URL); err == nil {
		t.Fatal("TestURL(bad): expected error")
	}

	noKey, _ := newTestNotifier(ok.URL, "")
	if err := noKey.TestURL(context.Background(), ok.URL); err == nil {
		t.Fatal("TestURL without signing key: expected configuration error")
	}
}

func TestDeliveryDroppedOnSettingsError(t *testing.T) {
	n := NewNotifier(&fakeSettings{err: errors.New("store down")}, &fakeKeys{key: "secret"}, nil)
	n.sleep = func(time.Duration) {}
	// must not panic or retry; the event is dropped
	n.deliver(context.Background(), EventRecordingStarted, nil)
}
