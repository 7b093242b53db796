package webhook

import (
	"context"
	"testing"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/events"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

type memSettingsStore struct {
	stored models.WebhookSettings
	reads  int
}

func (m *memSettingsStore) Get(ctx context.Context) (models.WebhookSettings, error) {
	m.reads++
	return m.stored, nil
}

func (m *memSettingsStore) Update(ctx context.Context, enabled bool, url string) (models.WebhookSettings, error) {
	m.stored = models.WebhookSettings{Enabled: enabled, URL: url}
	return m.stored, nil
}

func TestSettingsCachesReads(t *testing.T) {
	store := &memSettingsStore{stored: models.WebhookSettings{Enabled: true, URL: "https://a.example"}}
	s := NewSettings(store, events.NewMemoryBus(), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := s.Current(ctx)
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		if got.URL != "https://a.example" {
			t.Fatalf("URL = %q", got.URL)
		}
	}
	if store.reads != 1 {
		t.Fatalf("store reads = %d, want 1 (cached afterwards)", store.reads)
	}
}

func TestSettingsInvalidationAcrossInstances(t *testing.T) {
	bus := events.NewMemoryBus()
	store := &memSettingsStore{stored: models.WebhookSettings{Enabled: true, URL: "https://old.example"}}

	a := NewSettings(store, bus, nil)
	b := NewSettings(store, bus, nil)
	for _, s := range []*Settings{a, b} {
		if err := s.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer s.Stop()
	}

	ctx := context.Background()
	if _, err := b.Current(ctx); err != nil {
		t.Fatalf("warm b's cache: %v", err)
	}

	if _, err := a.Update(ctx, true, "https://new.example"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// the memory bus delivers synchronously, so b's cache is already dropped
	got, err := b.Current(ctx)
	if err != nil {
		t.Fatalf("Current after invalidation: %v", err)
	}
	if got.URL != "https://new.example" {
		t.Fatalf("b still serves %q after invalidation", got.URL)
	}
}
