package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/internal/models"
)

const (
	headerSignature = "X-Signature"
	headerTimestamp = "X-Timestamp"

	// Failed deliveries wait 300, 600, 1200, 2400 and 4800 ms before the
	// next try; after the fifth retry the event is dropped.
	maxRetries     = 5
	initialBackoff = 300 * time.Millisecond

	requestTimeout = 10 * time.Second
	testTimeout    = 5 * time.Second
)

// SettingsSource provides the current webhook configuration.
type SettingsSource interface {
	Current(ctx context.Context) (models.WebhookSettings, error)
}

// KeySource provides the signing secret: the first provisioned API key.
type KeySource interface {
	SigningKey(ctx context.Context) (string, error)
}

// Notifier delivers signed lifecycle events to the configured URL. Delivery
// runs detached from the triggering operation: failures surface in logs
// only, never on the caller's return path.
type Notifier struct {
	settings SettingsSource
	keys     KeySource
	client   *http.Client
	logger   *zap.Logger

	wg    sync.WaitGroup
	sleep func(time.Duration)
}

// NewNotifier creates a webhook notifier.
func NewNotifier(settings SettingsSource, keys KeySource, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		settings: settings,
		keys:     keys,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
		sleep:    time.Sleep,
	}
}

func backoffDelay(retry int) time.Duration {
	return initialBackoff << uint(retry)
}

// NotifyInBackground queues one event for delivery and returns immediately.
func (n *Notifier) NotifyInBackground(event string, data any) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(context.Background(), event, data)
	}()
}

func (n *Notifier) deliver(ctx context.Context, event string, data any) {
	settings, err := n.settings.Current(ctx)
	if err != nil {
		n.logger.Error("load webhook settings failed, dropping event", zap.String("event", event), zap.Error(err))
		return
	}
	if !settings.Enabled || settings.URL == "" {
		return
	}
	body, err := json.Marshal(Event{Event: event, CreationDate: time.Now().UnixMilli(), Data: data})
	if err != nil {
		n.logger.Error("marshal webhook event failed", zap.String("event", event), zap.Error(err))
		return
	}
	key, err := n.keys.SigningKey(ctx)
	if err != nil {
		n.logger.Error("load signing key failed, dropping event", zap.String("event", event), zap.Error(err))
		return
	}
	if key == "" {
		// never send unsigned payloads
		n.logger.Error("no API key provisioned to sign webhooks, dropping event", zap.String("event", event))
		return
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			n.sleep(backoffDelay(attempt - 1))
		}
		if err := n.post(ctx, settings.URL, key, body); err != nil {
			n.logger.Warn("webhook delivery attempt failed",
				zap.String("event", event),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		n.logger.Debug("webhook delivered", zap.String("event", event), zap.String("url", settings.URL))
		return
	}
	n.logger.Warn("webhook delivery abandoned",
		zap.String("event", event),
		zap.String("url", settings.URL),
		zap.Int("attempts", maxRetries+1))
}

func (n *Notifier) post(ctx context.Context, url, key string, body []byte) error {
	ts := time.Now().UnixMilli()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerSignature, Sign(key, ts, body))
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// TestURL sends one signed probe event to the given URL and reports whether
// it answered 2xx. No retries; this backs the configuration UI only.
func (n *Notifier) TestURL(ctx context.Context, url string) error {
	key, err := n.keys.SigningKey(ctx)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	if key == "" {
		return errors.New("no API key provisioned to sign webhooks")
	}
	body, err := json.Marshal(Event{Event: eventTest, CreationDate: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	return n.post(ctx, url, key, body)
}

// Close waits for in-flight deliveries until ctx expires. Deliveries still
// running at that point are abandoned with the process.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		n.logger.Warn("shutting down with webhook deliveries still in flight")
		return ctx.Err()
	}
}
