package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dossierline/internal/config"
	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/metrics"
	"dossierline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	maxWebhookBackoff      = time.Minute

	signatureHeader = "X-Dossierline-Signature"
)

// WebhookDispatcher tails the event log and posts matching events to the
// configured hooks, in order, one hook at a time. A hook that fails is retried
// from the same event after a growing delay.
type WebhookDispatcher struct {
	engine   engine.Engine
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	hooks []*hookState
}

type hookState struct {
	cfg      config.WebhookConfig
	client   *http.Client
	patterns []string

	started bool
	cursor  int64
	backoff time.Duration
	retryAt time.Time
}

func NewWebhookDispatcher(e engine.Engine, log logrus.FieldLogger, m *metrics.Metrics) *WebhookDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &WebhookDispatcher{
		engine:   e,
		log:      log.WithField("component", "webhooks"),
		metrics:  m,
		interval: defaultWebhookInterval,
		now:      time.Now,
	}
	if e.Config == nil {
		return d
	}
	for _, hook := range e.Config.Webhooks {
		if (hook.Enabled != nil && !*hook.Enabled) || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, &hookState{
			cfg:      hook,
			client:   &http.Client{Timeout: timeout},
			patterns: eventPatterns(hook.Events),
		})
	}
	return d
}

// Run dispatches until ctx is done. It returns at once when no hook is enabled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.hooks) == 0 {
		return
	}
	d.log.WithField("hooks", len(d.hooks)).Info("webhook dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll delivers whatever each hook has not seen yet.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.drain(ctx, h)
	}
}

func (d *WebhookDispatcher) drain(ctx context.Context, h *hookState) {
	if !h.started {
		// New hooks start at the end of the log; history is not replayed.
		latest, err := d.engine.Repo.LatestEventID(ctx, "")
		if err != nil {
			d.log.WithError(err).Warn("read latest event id")
			return
		}
		h.cursor, h.started = latest, true
	}
	if d.now().Before(h.retryAt) {
		return
	}
	batch, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, h.cursor, repo.EventFilter{})
	if err != nil {
		d.log.WithError(err).Warn("read events")
		return
	}
	for _, evt := range batch {
		if h.wants(evt.Type) {
			err := d.deliver(ctx, h, evt)
			d.metrics.WebhookDelivery(err)
			if err != nil {
				h.fail(d.now())
				d.log.WithError(err).WithFields(logrus.Fields{
					"url": h.cfg.URL, "event_id": evt.ID, "retry_in": h.backoff,
				}).Warn("webhook delivery failed")
				return
			}
		}
		h.cursor = evt.ID
		h.backoff = 0
	}
}

func (h *hookState) wants(eventType string) bool {
	if len(h.patterns) == 0 {
		return true
	}
	for _, p := range h.patterns {
		if ok, _ := path.Match(p, eventType); ok {
			return true
		}
	}
	return false
}

func (h *hookState) fail(now time.Time) {
	switch {
	case h.backoff == 0:
		h.backoff = defaultWebhookInterval
	case h.backoff < maxWebhookBackoff:
		h.backoff *= 2
	}
	if h.backoff > maxWebhookBackoff {
		h.backoff = maxWebhookBackoff
	}
	h.retryAt = now.Add(h.backoff)
}

// eventPatterns keeps non-blank entries; "document.*" style globs are allowed.
func eventPatterns(events []string) []string {
	var out []string
	for _, evt := range events {
		if p := strings.TrimSpace(evt); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func webhookBody(evt domain.Event) ([]byte, error) {
	payload := json.RawMessage(`{}`)
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		SessionID:  evt.SessionID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
}

// signBody returns the hex HMAC-SHA256 of body under secret, prefixed "sha256=".
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) deliver(ctx context.Context, h *hookState, evt domain.Event) error {
	body, err := webhookBody(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dossierline-Event", evt.Type)
	req.Header.Set("X-Dossierline-Delivery", strconv.FormatInt(evt.ID, 10))
	if evt.SessionID != "" {
		req.Header.Set("X-Dossierline-Session", evt.SessionID)
	}
	if secret := strings.TrimSpace(h.cfg.Secret); secret != "" {
		req.Header.Set(signatureHeader, signBody(secret, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
