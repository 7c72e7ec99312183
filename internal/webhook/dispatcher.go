package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/pkg/log"
)

// Dispatcher posts message payloads to user webhook URLs. Deliveries
// retry with exponential backoff and never surface an error to the
// message path; a failed webhook is the receiver's problem, not the
// sender's.
type Dispatcher struct {
	cfg config.WebhookConfig

	mu     sync.RWMutex
	client *http.Client

	// backoff returns how long to wait after a failed attempt. Hook
	// for tests.
	backoff func(attempt int) time.Duration
}

// NewDispatcher builds a stopped dispatcher. Call Start before use.
func NewDispatcher(cfg config.WebhookConfig) *Dispatcher {
	return &Dispatcher{
		cfg: cfg,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

// Start creates the HTTP client.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		d.client = &http.Client{Timeout: d.cfg.Timeout}
	}
}

// Stop drops the client. Deliveries after Stop report false.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		d.client.CloseIdleConnections()
		d.client = nil
	}
}

// Deliver posts payload to the user's webhook URL, reporting whether
// any attempt succeeded. Users without a webhook URL report false
// without a request.
func (d *Dispatcher) Deliver(ctx context.Context, user *domain.User, payload []byte) bool {
	l := log.L()
	if user.WebhookURL == "" {
		l.Debug().
			Str(log.FieldUsername, user.Username).
			Msg("no webhook url configured")
		return false
	}

	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client == nil {
		l.Error().Msg("webhook dispatcher not started")
		return false
	}

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		status, err := d.post(ctx, client, user.WebhookURL, payload)
		if err == nil && status < 300 {
			l.Info().
				Str(log.FieldUsername, user.Username).
				Str("webhook_url", user.WebhookURL).
				Msg("webhook delivered")
			return true
		}

		evt := l.Warn().
			Str(log.FieldUsername, user.Username).
			Int("attempt", attempt+1).
			Int("max_attempts", d.cfg.MaxRetries)
		if err != nil {
			evt = evt.Err(err)
		} else {
			evt = evt.Int(log.FieldStatus, status)
		}
		evt.Msg("webhook delivery attempt failed")

		if attempt < d.cfg.MaxRetries-1 {
			select {
			case <-time.After(d.backoff(attempt)):
			case <-ctx.Done():
				return false
			}
		}
	}

	l.Error().
		Str(log.FieldUsername, user.Username).
		Int("attempts", d.cfg.MaxRetries).
		Msg("webhook delivery gave up")
	return false
}

// Broadcast delivers payload to every listed user's webhook except the
// excluded one, concurrently, and waits for all attempts to finish.
func (d *Dispatcher) Broadcast(ctx context.Context, users []*domain.User, payload []byte, excludeUsername string) {
	var wg sync.WaitGroup
	for _, user := range users {
		if user.Username == excludeUsername || user.WebhookURL == "" {
			continue
		}

		wg.Add(1)
		go func(user *domain.User) {
			defer wg.Done()
			d.Deliver(ctx, user, payload)
		}(user)
	}
	wg.Wait()
}

func (d *Dispatcher) post(ctx context.Context, client *http.Client, url string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
