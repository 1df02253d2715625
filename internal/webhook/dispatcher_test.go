package webhook

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/pkg/schema"
)

type runCall struct {
	id     string
	input  any
	userID string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runCall
}

func (r *fakeRunner) Run(_ context.Context, id string, input any, userID string) (*schema.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{id: id, input: input, userID: userID})
	return &schema.RunResult{Success: true}, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *store.MemoryStore
	workflows  *fakeRunner
	pipelines  *fakeRunner
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	s := store.NewMemoryStore()
	wf := &fakeRunner{}
	pl := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &dispatcherFixture{
		dispatcher: NewDispatcher(s, wf, pl, streaming.NewMemoryHub(), logger),
		store:      s,
		workflows:  wf,
		pipelines:  pl,
	}
}

func createWebhook(t *testing.T, s *store.MemoryStore, id, secret string, resourceType schema.ResourceType, enabled bool) {
	t.Helper()
	require.NoError(t, s.CreateWebhook(context.Background(), &store.Webhook{
		ID:           id,
		UserID:       "u1",
		ResourceType: resourceType,
		ResourceID:   "r1",
		Secret:       secret,
		Enabled:      enabled,
	}))
}

func TestTriggerDispatchesWorkflow(t *testing.T) {
	f := newDispatcherFixture(t)
	createWebhook(t, f.store, "wh1", "", schema.ResourceWorkflow, true)

	result, err := f.dispatcher.Trigger(context.Background(), "wh1", []byte(`{"event":"push"}`), "")
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, f.workflows.calls, 1)
	assert.Equal(t, "r1", f.workflows.calls[0].id)
	assert.Equal(t, "u1", f.workflows.calls[0].userID)
	assert.Equal(t, map[string]any{"event": "push"}, f.workflows.calls[0].input)
	assert.Empty(t, f.pipelines.calls)
}

func TestTriggerDispatchesPipeline(t *testing.T) {
	f := newDispatcherFixture(t)
	createWebhook(t, f.store, "wh1", "", schema.ResourcePipeline, true)

	_, err := f.dispatcher.Trigger(context.Background(), "wh1", []byte("plain text"), "")
	require.NoError(t, err)

	require.Len(t, f.pipelines.calls, 1)
	assert.Equal(t, "plain text", f.pipelines.calls[0].input)
}

func TestTriggerValidSignature(t *testing.T) {
	f := newDispatcherFixture(t)
	secret := "s3cr3t"
	payload := []byte(`{"n":1}`)
	createWebhook(t, f.store, "wh1", secret, schema.ResourceWorkflow, true)

	_, err := f.dispatcher.Trigger(context.Background(), "wh1", payload, Sign(secret, payload))
	require.NoError(t, err)
	assert.Len(t, f.workflows.calls, 1)
}

func TestTriggerSignaturePrefixTolerated(t *testing.T) {
	f := newDispatcherFixture(t)
	secret := "s3cr3t"
	payload := []byte(`{"n":1}`)
	createWebhook(t, f.store, "wh1", secret, schema.ResourceWorkflow, true)

	_, err := f.dispatcher.Trigger(context.Background(), "wh1", payload, "sha256="+Sign(secret, payload))
	require.NoError(t, err)
	assert.Len(t, f.workflows.calls, 1)
}

func TestTriggerInvalidSignatureRejectedBeforeDispatch(t *testing.T) {
	f := newDispatcherFixture(t)
	secret := "s3cr3t"
	createWebhook(t, f.store, "wh1", secret, schema.ResourceWorkflow, true)

	_, err := f.dispatcher.Trigger(context.Background(), "wh1", []byte(`{"n":1}`), Sign("wrong-secret", []byte(`{"n":1}`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")
	assert.Empty(t, f.workflows.calls)
}

func TestTriggerMutatedPayloadRejected(t *testing.T) {
	f := newDispatcherFixture(t)
	secret := "s3cr3t"
	payload := []byte(`{"amount":100}`)
	createWebhook(t, f.store, "wh1", secret, schema.ResourceWorkflow, true)
	signature := Sign(secret, payload)

	// Flip one byte after signing.
	mutated := []byte(`{"amount":900}`)
	_, err := f.dispatcher.Trigger(context.Background(), "wh1", mutated, signature)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")
	assert.Empty(t, f.workflows.calls)
}

func TestTriggerGuards(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Trigger(ctx, "ghost", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	createWebhook(t, f.store, "off", "", schema.ResourceWorkflow, false)
	_, err = f.dispatcher.Trigger(ctx, "off", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
	assert.Empty(t, f.workflows.calls)
}

func TestRotateSecretInvalidatesOldValue(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	payload := []byte(`{}`)
	createWebhook(t, f.store, "wh1", "old-secret", schema.ResourceWorkflow, true)
	oldSignature := Sign("old-secret", payload)

	newSecret, err := f.dispatcher.RotateSecret(ctx, "wh1")
	require.NoError(t, err)
	assert.Len(t, newSecret, 64)
	assert.NotEqual(t, "old-secret", newSecret)

	_, err = f.dispatcher.Trigger(ctx, "wh1", payload, oldSignature)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")

	_, err = f.dispatcher.Trigger(ctx, "wh1", payload, Sign(newSecret, payload))
	require.NoError(t, err)
}

func TestGenerateSecretIsRandom(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
