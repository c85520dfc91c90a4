// ABOUTME: Tests for the session orchestrator state machine
// ABOUTME: Covers stream supersession, completion chaining, and config panel derivation

package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivie/widget-gateway/internal/catalog"
	"github.com/aivie/widget-gateway/internal/identity"
	"github.com/aivie/widget-gateway/internal/params"
	"github.com/aivie/widget-gateway/internal/tree"
	"github.com/aivie/widget-gateway/internal/upstream"
)

// memKV is an in-memory identity store for tests.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (k *memKV) Get(_ context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *memKV) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

// mockStream is a controllable answer stream. Stop records the call but does
// not close the channel, matching the best-effort cancellation contract.
type mockStream struct {
	chunks chan upstream.AnswerChunk

	mu      sync.Mutex
	stopped int
}

func (s *mockStream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *mockStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type mockBackend struct {
	mu sync.Mutex

	info     *upstream.AppInfo
	infoErr  error
	form     []json.RawMessage
	pinned   []catalog.Item
	regular  []catalog.Item
	chatList []tree.RawMessage
	named    catalog.Item

	feedback  []string
	streams   []*mockStream
	sends     []*upstream.AnswerRequest
	nameCalls int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		info: &upstream.AppInfo{
			AppID: "app-1",
			Site:  upstream.Site{Title: "Support", DefaultLanguage: "en-US"},
		},
	}
}

func (b *mockBackend) FetchAppInfo(context.Context) (*upstream.AppInfo, error) {
	if b.infoErr != nil {
		return nil, b.infoErr
	}
	return b.info, nil
}

func (b *mockBackend) FetchAppParams(context.Context) (*upstream.AppParams, error) {
	return &upstream.AppParams{UserInputForm: b.form}, nil
}

func (b *mockBackend) FetchConversations(_ context.Context, pinned bool, _ int) ([]catalog.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pinned {
		return b.pinned, nil
	}
	return b.regular, nil
}

func (b *mockBackend) FetchChatList(context.Context, string) ([]tree.RawMessage, error) {
	return b.chatList, nil
}

func (b *mockBackend) SubmitFeedback(_ context.Context, messageID string, _ tree.Feedback) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedback = append(b.feedback, messageID)
	return nil
}

func (b *mockBackend) GenerateConversationName(context.Context, string) (catalog.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nameCalls++
	return b.named, nil
}

func (b *mockBackend) nameCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nameCalls
}

func (b *mockBackend) StreamAnswer(_ context.Context, req *upstream.AnswerRequest) (*upstream.AnswerStream, error) {
	s := &mockStream{chunks: make(chan upstream.AnswerChunk, 16)}
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.sends = append(b.sends, req)
	b.mu.Unlock()
	return &upstream.AnswerStream{Chunks: s.chunks, Stop: s.stop}, nil
}

func (b *mockBackend) stream(i int) *mockStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[i]
}

func (b *mockBackend) sendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sends)
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

type fakePage struct {
	key      string
	override *bool
}

func (p *fakePage) ChatKey() string                { return p.key }
func (p *fakePage) ShowConfigPanelOverride() *bool { return p.override }

func requiredNameForm() []json.RawMessage {
	return []json.RawMessage{
		json.RawMessage(`{"text-input":{"label":"Name","variable":"name","required":true}}`),
	}
}

func newOrchestrator(t *testing.T, backend *mockBackend, opts Options) *Orchestrator {
	t.Helper()
	opts.Backend = backend
	if opts.Identity == nil {
		opts.Identity = identity.NewMapper(newMemKV(), nil)
	}
	o := New(opts)
	t.Cleanup(o.Close)
	return o
}

func TestInitialize_SkipsConfigPanelWithoutFields(t *testing.T) {
	backend := newMockBackend()
	backend.regular = []catalog.Item{{ID: "c1", Name: "First"}}
	o := newOrchestrator(t, backend, Options{UserID: "u1"})

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, StateActive, o.State())
	assert.False(t, o.ShowConfigPanel())
	assert.Equal(t, "en-US", o.Locale())
	assert.Len(t, o.Catalog().List(), 1)
}

func TestInitialize_ConfigPanelWhenRequiredInputMissing(t *testing.T) {
	backend := newMockBackend()
	backend.form = requiredNameForm()
	o := newOrchestrator(t, backend, Options{UserID: "u1"})

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, StateConfigPanel, o.State())
	assert.True(t, o.ShowConfigPanel())
}

func TestInitialize_QueryOverrideSatisfiesRequiredInput(t *testing.T) {
	backend := newMockBackend()
	backend.form = requiredNameForm()
	o := newOrchestrator(t, backend, Options{
		UserID: "u1",
		Query:  params.Params{Inputs: map[string]any{"name": "Ada"}},
	})

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, StateActive, o.State())
	assert.Equal(t, "Ada", o.Values()["name"])
}

func TestInitialize_PageOverrideForcesPanel(t *testing.T) {
	backend := newMockBackend()
	show := true
	o := newOrchestrator(t, backend, Options{UserID: "u1", Page: &fakePage{override: &show}})

	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, StateConfigPanel, o.State())
}

func TestInitialize_AppUnavailableIsFatal(t *testing.T) {
	backend := newMockBackend()
	backend.infoErr = upstream.ErrAppUnavailable
	o := newOrchestrator(t, backend, Options{UserID: "u1"})

	err := o.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrAppUnavailable)
	assert.Equal(t, StateUninitialized, o.State())
}

type denyAll struct{}

func (denyAll) CheckAccess(context.Context, string, string) error {
	return context.DeadlineExceeded
}

func TestInitialize_AccessCheckFailureIsFatal(t *testing.T) {
	backend := newMockBackend()
	o := newOrchestrator(t, backend, Options{UserID: "u1", Access: denyAll{}})

	err := o.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrAppUnavailable)
}

func TestInitialize_QueryConversationIDWins(t *testing.T) {
	backend := newMockBackend()
	kv := newMemKV()
	mapper := identity.NewMapper(kv, nil)
	require.NoError(t, mapper.Persist(context.Background(), "app-1", "u1", "persisted"))

	o := newOrchestrator(t, backend, Options{
		UserID:   "u1",
		Identity: mapper,
		Query:    params.Params{ConversationID: "from-query"},
	})
	require.NoError(t, o.Initialize(context.Background()))
	assert.Equal(t, "from-query", o.ConversationID())
	assert.False(t, o.AllowResetChat())
}

func TestSend_BlockedByMissingRequiredInput(t *testing.T) {
	backend := newMockBackend()
	backend.form = requiredNameForm()
	notifier := &recordingNotifier{}
	o := newOrchestrator(t, backend, Options{UserID: "u1", Notifier: notifier})
	require.NoError(t, o.Initialize(context.Background()))

	_, err := o.Send(context.Background(), SendRequest{Query: "hi"})
	assert.ErrorIs(t, err, ErrInputsIncomplete)
	assert.Equal(t, 0, backend.sendCount())
	assert.NotEmpty(t, notifier.errors)
}

func TestRegenerate_StopsCurrentStreamFirst(t *testing.T) {
	backend := newMockBackend()
	o := newOrchestrator(t, backend, Options{UserID: "u1"})
	require.NoError(t, o.Initialize(context.Background()))

	out1, err := o.Send(context.Background(), SendRequest{Query: "hi"})
	require.NoError(t, err)

	out2, err := o.Regenerate(context.Background(), "hi", "m1")
	require.NoError(t, err)

	// Exactly one stop on the first stream, exactly two sends total.
	assert.Equal(t, 2, backend.sendCount())
	assert.Equal(t, 1, backend.stream(0).stopCount())
	assert.Equal(t, 0, backend.stream(1).stopCount())
	assert.Equal(t, "m1", backend.sends[1].ParentMessageID)

	// A late chunk from the superseded stream is discarded.
	backend.stream(0).chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventMessage, Answer: "stale"}
	close(backend.stream(0).chunks)
	_, open := <-out1
	assert.False(t, open, "superseded stream must deliver nothing")

	backend.stream(1).chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventMessage, Answer: "fresh"}
	close(backend.stream(1).chunks)
	chunk := <-out2
	assert.Equal(t, "fresh", chunk.Answer)
}

func TestStreamEnd_CompletesConversation(t *testing.T) {
	backend := newMockBackend()
	backend.named = catalog.Item{ID: "c-new", Name: "Billing question"}
	kv := newMemKV()
	o := newOrchestrator(t, backend, Options{UserID: "u1", Identity: identity.NewMapper(kv, nil)})
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.NewConversation(context.Background()))

	out, err := o.Send(context.Background(), SendRequest{Query: "hi"})
	require.NoError(t, err)

	s := backend.stream(0)
	s.chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventMessage, Answer: "hello"}
	s.chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventEnd, ConversationID: "c-new"}
	close(s.chunks)
	for range out {
	}

	require.Eventually(t, func() bool {
		return o.ConversationID() == "c-new"
	}, time.Second, 10*time.Millisecond)

	// The freshly completed conversation must not force a chat rebuild.
	assert.Equal(t, "", o.ReloadKey())

	require.Eventually(t, func() bool {
		items := o.Catalog().List()
		return len(items) == 1 && items[0].Name == "Billing question"
	}, time.Second, 10*time.Millisecond)

	conv, err := identity.NewMapper(kv, nil).Resolve(context.Background(), "app-1", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "c-new", conv)
}

func TestStreamEnd_ExistingConversationSkipsCompletion(t *testing.T) {
	backend := newMockBackend()
	o := newOrchestrator(t, backend, Options{UserID: "u1"})
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.ChangeConversation(context.Background(), "c1"))

	out, err := o.Send(context.Background(), SendRequest{Query: "another question"})
	require.NoError(t, err)

	s := backend.stream(0)
	s.chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventMessage, Answer: "sure"}
	s.chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventEnd, ConversationID: "c1"}
	close(s.chunks)
	for range out {
	}

	// No auto-naming and no pending-new bookkeeping for an established
	// conversation: the reload key keeps pointing at it.
	assert.Equal(t, 0, backend.nameCallCount())
	assert.Equal(t, "c1", o.ConversationID())
	assert.Equal(t, "c1", o.ReloadKey())
}

func TestStreamError_IsTerminalChunkNotSendFailure(t *testing.T) {
	backend := newMockBackend()
	o := newOrchestrator(t, backend, Options{UserID: "u1"})
	require.NoError(t, o.Initialize(context.Background()))

	out, err := o.Send(context.Background(), SendRequest{Query: "hi"})
	require.NoError(t, err)

	s := backend.stream(0)
	s.chunks <- upstream.AnswerChunk{Event: upstream.AnswerEventError, ErrorMessage: "quota exceeded"}
	close(s.chunks)

	chunk := <-out
	assert.Equal(t, upstream.AnswerEventError, chunk.Event)
	assert.Equal(t, "quota exceeded", chunk.ErrorMessage)
	_, open := <-out
	assert.False(t, open)
}

func TestChangeConversation(t *testing.T) {
	backend := newMockBackend()
	kv := newMemKV()
	o := newOrchestrator(t, backend, Options{UserID: "u1", Identity: identity.NewMapper(kv, nil)})
	require.NoError(t, o.Initialize(context.Background()))

	_, err := o.Send(context.Background(), SendRequest{Query: "hi"})
	require.NoError(t, err)

	require.NoError(t, o.ChangeConversation(context.Background(), "c2"))
	assert.Equal(t, 1, backend.stream(0).stopCount())
	assert.Equal(t, "c2", o.ConversationID())
	assert.Equal(t, "c2", o.ReloadKey())
	assert.Equal(t, StateActive, o.State())

	conv, err := identity.NewMapper(kv, nil).Resolve(context.Background(), "app-1", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "c2", conv)
}

func TestNewConversation_ResetsStateAndReseedsInputs(t *testing.T) {
	backend := newMockBackend()
	backend.form = []json.RawMessage{
		json.RawMessage(`{"text-input":{"label":"Key","variable":"key"}}`),
	}
	o := newOrchestrator(t, backend, Options{UserID: "u1", Page: &fakePage{key: "granted"}})
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.ChangeConversation(context.Background(), "c1"))

	require.NoError(t, o.NewConversation(context.Background()))
	assert.Equal(t, "", o.ConversationID())
	assert.Equal(t, "", o.ReloadKey())
	assert.Equal(t, "granted", o.Values()["key"])

	items := o.Catalog().List()
	require.NotEmpty(t, items)
	assert.Equal(t, "", items[0].ID)
	assert.Equal(t, catalog.DefaultPlaceholderName, items[0].Name)
}

func TestSubmitFeedback_SurfacesSuccessNotice(t *testing.T) {
	backend := newMockBackend()
	notifier := &recordingNotifier{}
	o := newOrchestrator(t, backend, Options{UserID: "u1", Notifier: notifier})
	require.NoError(t, o.Initialize(context.Background()))

	require.NoError(t, o.SubmitFeedback(context.Background(), "m1", tree.Feedback{Rating: tree.RatingLike}))
	assert.Equal(t, []string{"m1"}, backend.feedback)
	assert.Equal(t, []string{"Feedback submitted"}, notifier.infos)
}

func TestHistory_BuildsTree(t *testing.T) {
	backend := newMockBackend()
	backend.chatList = []tree.RawMessage{
		{ID: "m1", Query: "hi", Answer: "hello"},
	}
	o := newOrchestrator(t, backend, Options{UserID: "u1"})
	require.NoError(t, o.Initialize(context.Background()))

	items, err := o.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, tree.QuestionPrefix+"m1", items[0].ID)
	assert.Equal(t, "m1", items[1].ID)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	o := newOrchestrator(t, newMockBackend(), Options{UserID: "u1"})

	_, err := o.Send(context.Background(), SendRequest{Query: "hi"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, o.ChangeConversation(context.Background(), "c1"), ErrNotInitialized)
	assert.ErrorIs(t, o.NewConversation(context.Background()), ErrNotInitialized)
}
