package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/pkg/schema"
)

// Runner executes a workflow or pipeline by id.
type Runner interface {
	Run(ctx context.Context, id string, input any, userID string) (*schema.RunResult, error)
}

// Dispatcher turns signed inbound webhook calls into runs.
type Dispatcher struct {
	store     store.Store
	workflows Runner
	pipelines Runner
	hub       streaming.EventHub
	logger    *slog.Logger
}

// NewDispatcher creates a webhook Dispatcher.
func NewDispatcher(s store.Store, workflows, pipelines Runner, hub streaming.EventHub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: s, workflows: workflows, pipelines: pipelines, hub: hub, logger: logger}
}

// Trigger verifies and dispatches one webhook delivery. When the webhook
// has a secret and the caller sent a signature, the signature must be a
// valid HMAC-SHA256 over the exact payload bytes; a mismatch rejects
// before any side effect.
func (d *Dispatcher) Trigger(ctx context.Context, id string, payload []byte, signature string) (*schema.RunResult, error) {
	wh, err := d.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "load webhook").WithCause(err)
	}
	if wh == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "webhook %q not found", id)
	}
	if !wh.Enabled {
		return nil, schema.NewErrorf(schema.ErrCodeNotActive, "webhook %q is disabled", id)
	}

	if wh.Secret != "" && signature != "" {
		if !verify(wh.Secret, payload, signature) {
			d.logger.WarnContext(ctx, "webhook signature mismatch", slog.String("webhook_id", id))
			return nil, schema.NewErrorf(schema.ErrCodeSignature, "invalid signature for webhook %q", id)
		}
	}

	_ = d.hub.Publish(ctx, streaming.StreamEvent{
		EventType:  schema.EventWebhookReceived,
		ResourceID: wh.ResourceID,
		UserID:     wh.UserID,
	})
	d.logger.InfoContext(ctx, "webhook received",
		slog.String("webhook_id", id),
		slog.String("resource_type", string(wh.ResourceType)),
		slog.String("resource_id", wh.ResourceID))

	input := decodePayload(payload)
	switch wh.ResourceType {
	case schema.ResourceWorkflow:
		return d.workflows.Run(ctx, wh.ResourceID, input, wh.UserID)
	case schema.ResourcePipeline:
		return d.pipelines.Run(ctx, wh.ResourceID, input, wh.UserID)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown resource type %q", wh.ResourceType)
	}
}

// RotateSecret replaces the webhook's secret and returns the new value.
// The old secret stops verifying immediately.
func (d *Dispatcher) RotateSecret(ctx context.Context, id string) (string, error) {
	wh, err := d.store.GetWebhook(ctx, id)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "load webhook").WithCause(err)
	}
	if wh == nil {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "webhook %q not found", id)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := d.store.UpdateWebhook(ctx, id, store.WebhookUpdate{Secret: &secret}); err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "persist webhook secret").WithCause(err)
	}
	d.logger.InfoContext(ctx, "webhook secret rotated", slog.String("webhook_id", id))
	return secret, nil
}

// GenerateSecret returns a 32-byte random secret, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "generate secret").WithCause(err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign computes the hex HMAC-SHA256 of a payload. Callers send this as the
// delivery signature.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares in constant time. A "sha256=" prefix on the caller's
// signature is tolerated.
func verify(secret string, payload []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	sent, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sent, mac.Sum(nil))
}

// decodePayload hands JSON bodies to the run as structured data and
// anything else as a string.
func decodePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	return string(payload)
}
