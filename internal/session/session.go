// ABOUTME: Orchestrator drives a widget session through its lifecycle states
// ABOUTME: All conversation, identity, and stream transitions flow through here

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aivie/widget-gateway/internal/activity"
	"github.com/aivie/widget-gateway/internal/catalog"
	"github.com/aivie/widget-gateway/internal/identity"
	"github.com/aivie/widget-gateway/internal/inputform"
	"github.com/aivie/widget-gateway/internal/params"
	"github.com/aivie/widget-gateway/internal/tree"
	"github.com/aivie/widget-gateway/internal/upstream"
)

// State is the session lifecycle position.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConfigPanel   State = "config_panel"
	StateActive        State = "active"
	StateRestarting    State = "restarting"
)

var (
	// ErrNotInitialized marks operations issued before Initialize succeeded.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrInputsIncomplete marks a send blocked by missing required inputs.
	ErrInputsIncomplete = errors.New("required inputs incomplete")
	// ErrUploadsPending marks a send blocked by an in-flight file upload.
	ErrUploadsPending = errors.New("file uploads still pending")
)

// Backend defines what the orchestrator needs from the application backend.
type Backend interface {
	FetchAppInfo(ctx context.Context) (*upstream.AppInfo, error)
	FetchAppParams(ctx context.Context) (*upstream.AppParams, error)
	FetchConversations(ctx context.Context, pinned bool, limit int) ([]catalog.Item, error)
	FetchChatList(ctx context.Context, conversationID string) ([]tree.RawMessage, error)
	SubmitFeedback(ctx context.Context, messageID string, feedback tree.Feedback) error
	GenerateConversationName(ctx context.Context, conversationID string) (catalog.Item, error)
	StreamAnswer(ctx context.Context, req *upstream.AnswerRequest) (*upstream.AnswerStream, error)
}

// AccessChecker validates that the end user may open the application.
// Failures count as the fatal "unavailable" class, same as a metadata fetch
// failure.
type AccessChecker interface {
	CheckAccess(ctx context.Context, appID, userID string) error
}

// PageLink is the slice of the page handshake the orchestrator reads:
// the session key granted by the page and its config-panel override.
type PageLink interface {
	ChatKey() string
	ShowConfigPanelOverride() *bool
}

// Options configures an Orchestrator.
type Options struct {
	Backend     Backend
	Access      AccessChecker // optional
	Identity    *identity.Mapper
	Page        PageLink // optional
	Notifier    inputform.Notifier
	Query       params.Params
	UserID      string
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Orchestrator is the per-session state machine. It owns the conversation
// catalog, the input gate, the activity monitor, and the single in-flight
// answer stream.
type Orchestrator struct {
	backend  Backend
	access   AccessChecker
	identity *identity.Mapper
	page     PageLink
	notifier inputform.Notifier
	query    params.Params
	logger   *slog.Logger

	streams streamRef
	catalog *catalog.Catalog
	monitor *activity.Monitor

	mu                    sync.Mutex
	state                 State
	appInfo               *upstream.AppInfo
	schema                inputform.Schema
	gate                  *inputform.Gate
	values                map[string]any
	userID                string
	locale                string
	currentConversationID string
	newConversationID     string
	showConfigPanel       bool
}

// New creates an Orchestrator in the Uninitialized state.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = inputform.NopNotifier{}
	}
	timeout := opts.IdleTimeout
	if timeout <= 0 {
		timeout = activity.DefaultIdleTimeout
	}

	o := &Orchestrator{
		backend:  opts.Backend,
		access:   opts.Access,
		identity: opts.Identity,
		page:     opts.Page,
		notifier: notifier,
		query:    opts.Query,
		logger:   logger.With("component", "session"),
		catalog:  catalog.New(catalog.DefaultPlaceholderName, logger),
		state:    StateUninitialized,
	}
	userID := opts.UserID
	if userID == "" {
		userID = opts.Query.System.UserID
	}
	o.userID = userID
	o.monitor = activity.NewMonitor(timeout, nil, logger)
	return o
}

// Initialize fetches application metadata, runs the access check, resolves
// the conversation identity, parses the input-form schema, and loads the
// conversation catalog. A metadata or access failure here is the one fatal
// error class for the session.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	info, err := o.backend.FetchAppInfo(ctx)
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	if o.access != nil {
		if err := o.access.CheckAccess(ctx, info.AppID, o.userID); err != nil {
			o.logger.Warn("access check failed", "app_id", info.AppID, "error", err)
			return fmt.Errorf("access check: %w", upstream.ErrAppUnavailable)
		}
	}

	appParams, err := o.backend.FetchAppParams(ctx)
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	schema, err := inputform.ParseSchema(appParams.UserInputForm, o.query.Inputs)
	if err != nil {
		return fmt.Errorf("parsing input form: %w", err)
	}

	conversationID, err := o.identity.Resolve(ctx, info.AppID, o.userID, o.query.ConversationID)
	if err != nil {
		return fmt.Errorf("resolving conversation identity: %w", err)
	}

	if err := o.loadCatalog(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.appInfo = info
	o.schema = schema
	o.gate = inputform.NewGate(schema, o.notifier, o.logger)
	o.values = schema.InitialValues(o.chatKey())
	o.locale = o.query.ResolveLocale(info.Site.DefaultLanguage)
	o.currentConversationID = conversationID
	o.newConversationID = ""
	o.showConfigPanel = o.deriveConfigPanelLocked()
	if o.showConfigPanel {
		o.state = StateConfigPanel
	} else {
		o.state = StateActive
	}
	o.mu.Unlock()

	o.monitor.MarkActive()
	o.logger.Info("session initialized",
		"app_id", info.AppID,
		"conversation_id", conversationID,
		"locale", o.locale,
		"config_panel", o.showConfigPanel)
	return nil
}

// StartChat validates the supplied inputs with notices enabled and, on
// success, moves the session to Active. The config panel stays up when
// validation fails; the gate has already surfaced the notice.
func (o *Orchestrator) StartChat(ctx context.Context, values map[string]any) error {
	o.mu.Lock()
	if o.state == StateUninitialized {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	gate := o.gate
	o.mu.Unlock()

	switch gate.CheckRequired(values, false) {
	case inputform.CheckMissing:
		return ErrInputsIncomplete
	case inputform.CheckPending:
		return ErrUploadsPending
	}

	o.mu.Lock()
	o.values = values
	o.showConfigPanel = false
	o.state = StateActive
	o.mu.Unlock()

	o.monitor.MarkActive()
	return nil
}

// SendRequest carries one question into the conversation.
type SendRequest struct {
	Query string
	Files []any
	// ParentMessageID branches from an existing turn; a regenerate passes
	// the question being retried.
	ParentMessageID string
}

// Send stops any in-flight answer stream and starts a new one for the
// current conversation. The returned channel carries answer chunks until the
// stream ends, errors, or is superseded; a stream error arrives as a final
// error-flagged chunk, not as a Send failure.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (<-chan upstream.AnswerChunk, error) {
	o.mu.Lock()
	if o.state == StateUninitialized {
		o.mu.Unlock()
		return nil, ErrNotInitialized
	}
	gate := o.gate
	values := o.values
	conversationID := o.currentConversationID
	userID := o.userID
	o.mu.Unlock()

	// Only a send into a not-yet-created conversation may complete one.
	pendingNew := conversationID == ""

	switch gate.CheckRequired(values, false) {
	case inputform.CheckMissing:
		return nil, ErrInputsIncomplete
	case inputform.CheckPending:
		return nil, ErrUploadsPending
	}

	o.monitor.Touch()

	// Stop-before-start: at most one stream is ever in flight.
	o.streams.StopCurrent()

	stream, err := o.backend.StreamAnswer(ctx, &upstream.AnswerRequest{
		Query:           req.Query,
		Inputs:          values,
		ConversationID:  conversationID,
		ParentMessageID: req.ParentMessageID,
		Files:           req.Files,
		User:            userID,
	})
	if err != nil {
		return nil, fmt.Errorf("starting answer stream: %w", err)
	}
	token := o.streams.Swap(stream)

	out := make(chan upstream.AnswerChunk, 16)
	go o.consume(stream, token, pendingNew, out)
	return out, nil
}

// Regenerate retries a question as a sibling answer: the question id becomes
// the parent of the new turn. The tree builder needs no special casing.
func (o *Orchestrator) Regenerate(ctx context.Context, query, questionID string) (<-chan upstream.AnswerChunk, error) {
	return o.Send(ctx, SendRequest{Query: query, ParentMessageID: questionID})
}

// consume forwards chunks from the stream to out, discarding anything that
// arrives after the stream has been superseded. When the send opened a fresh
// conversation, the end event persists the server-assigned id and reconciles
// the catalog; sends into an existing conversation end without side effects.
func (o *Orchestrator) consume(stream *upstream.AnswerStream, token uint64, pendingNew bool, out chan<- upstream.AnswerChunk) {
	defer close(out)

	for chunk := range stream.Chunks {
		if !o.streams.Matches(token) {
			o.logger.Debug("discarding late chunk from superseded stream", "event", chunk.Event)
			continue
		}

		switch chunk.Event {
		case upstream.AnswerEventEnd:
			if pendingNew && chunk.ConversationID != "" {
				o.completeConversation(chunk.ConversationID)
			}
		case upstream.AnswerEventError:
			o.logger.Warn("answer stream error", "message", chunk.ErrorMessage)
		}

		select {
		case out <- chunk:
		case <-time.After(5 * time.Second):
			o.logger.Warn("answer channel full, dropping chunk", "event", chunk.Event)
		}
	}
}

// completeConversation records the server-assigned conversation id after a
// first answer lands: identity is persisted, the placeholder is dropped, the
// list is refetched, and the backend names the new conversation. Failures
// here are logged, never fatal; the conversation itself already succeeded.
func (o *Orchestrator) completeConversation(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.mu.Lock()
	appID := ""
	if o.appInfo != nil {
		appID = o.appInfo.AppID
	}
	userID := o.userID
	o.newConversationID = conversationID
	o.currentConversationID = conversationID
	o.mu.Unlock()

	if err := o.identity.Persist(ctx, appID, userID, conversationID); err != nil {
		o.logger.Error("failed to persist conversation identity",
			"conversation_id", conversationID, "error", err)
	}

	o.catalog.ShowPlaceholder(false)
	if items, err := o.backend.FetchConversations(ctx, false, 0); err != nil {
		o.logger.Error("failed to refresh conversation list", "error", err)
	} else {
		o.catalog.SetRegular(items)
	}

	named, err := o.backend.GenerateConversationName(ctx, conversationID)
	if err != nil {
		o.logger.Warn("failed to name conversation",
			"conversation_id", conversationID, "error", err)
		return
	}
	o.catalog.ReconcileNamed(named)
}

// ChangeConversation switches the session to an existing conversation. The
// in-flight stream is stopped, the pending new-conversation id is cleared,
// the identity map is persisted, and the config panel is re-derived silently.
func (o *Orchestrator) ChangeConversation(ctx context.Context, conversationID string) error {
	o.mu.Lock()
	if o.state == StateUninitialized {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	appID := o.appInfo.AppID
	userID := o.userID
	o.currentConversationID = conversationID
	o.newConversationID = ""
	o.mu.Unlock()

	o.streams.StopCurrent()
	o.monitor.Touch()

	if err := o.identity.Persist(ctx, appID, userID, conversationID); err != nil {
		return fmt.Errorf("persisting conversation identity: %w", err)
	}

	o.mu.Lock()
	o.showConfigPanel = o.deriveConfigPanelLocked()
	if o.showConfigPanel {
		o.state = StateConfigPanel
	} else {
		o.state = StateActive
	}
	o.mu.Unlock()
	return nil
}

// NewConversation resets the session to a fresh, unsaved conversation: the
// stream is stopped, the catalog shows its placeholder, and the input values
// are reseeded from the schema defaults and the page-granted session key.
func (o *Orchestrator) NewConversation(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateUninitialized {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	o.state = StateRestarting
	o.mu.Unlock()

	o.streams.StopCurrent()
	o.monitor.MarkActive()
	o.catalog.ShowPlaceholder(true)

	o.mu.Lock()
	o.currentConversationID = ""
	o.newConversationID = ""
	o.values = o.schema.InitialValues(o.chatKey())
	o.showConfigPanel = o.deriveConfigPanelLocked()
	if o.showConfigPanel {
		o.state = StateConfigPanel
	} else {
		o.state = StateActive
	}
	o.mu.Unlock()
	return nil
}

// History fetches and threads the message page for a conversation.
func (o *Orchestrator) History(ctx context.Context, conversationID string) ([]tree.ChatItem, error) {
	raw, err := o.backend.FetchChatList(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return tree.Build(raw), nil
}

// SubmitFeedback forwards a rating to the backend and surfaces a success
// notice.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, messageID string, feedback tree.Feedback) error {
	if err := o.backend.SubmitFeedback(ctx, messageID, feedback); err != nil {
		return fmt.Errorf("submitting feedback: %w", err)
	}
	o.notifier.Info("Feedback submitted")
	return nil
}

// loadCatalog fetches the pinned and regular conversation lists.
func (o *Orchestrator) loadCatalog(ctx context.Context) error {
	pinned, err := o.backend.FetchConversations(ctx, true, 0)
	if err != nil {
		return fmt.Errorf("fetching pinned conversations: %w", err)
	}
	regular, err := o.backend.FetchConversations(ctx, false, 0)
	if err != nil {
		return fmt.Errorf("fetching conversations: %w", err)
	}
	o.catalog.SetPinned(pinned)
	o.catalog.SetRegular(regular)
	return nil
}

// SetPage attaches the page handshake after construction. The bridge opens
// after the session exists, so the link arrives late; config-panel
// derivation picks the override up on the next transition.
func (o *Orchestrator) SetPage(page PageLink) {
	o.mu.Lock()
	o.page = page
	o.mu.Unlock()
}

// Catalog exposes the session's conversation catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Monitor exposes the session's activity monitor.
func (o *Orchestrator) Monitor() *activity.Monitor { return o.monitor }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ShowConfigPanel reports whether the input-form panel should be shown.
func (o *Orchestrator) ShowConfigPanel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.showConfigPanel
}

// Locale returns the resolved display locale.
func (o *Orchestrator) Locale() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locale
}

// ConversationID returns the current conversation id, empty for a fresh
// conversation that has not yet received its server-assigned id.
func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentConversationID
}

// ReloadKey returns the key the renderer uses to decide whether the chat
// view must be rebuilt. It stays empty while the current conversation is the
// one just created, so a first answer does not blank the visible chat.
func (o *Orchestrator) ReloadKey() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentConversationID == o.newConversationID {
		return ""
	}
	return o.currentConversationID
}

// AllowResetChat reports whether the user may start a new conversation. A
// conversation pinned by the owning page's query string cannot be reset.
func (o *Orchestrator) AllowResetChat() bool {
	return o.query.ConversationID == ""
}

// Values returns a copy of the current input values.
func (o *Orchestrator) Values() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// Close stops the in-flight stream and releases the idle timer.
func (o *Orchestrator) Close() {
	o.streams.StopCurrent()
	o.monitor.Close()
}

// deriveConfigPanelLocked computes showConfigPanel: the page handshake
// override wins; otherwise the panel shows only when the schema has
// something to collect and a silent check still finds inputs missing.
func (o *Orchestrator) deriveConfigPanelLocked() bool {
	if o.page != nil {
		if override := o.page.ShowConfigPanelOverride(); override != nil {
			return *override
		}
	}
	if !o.schema.HasVisibleOrRequired() {
		return false
	}
	return o.gate.CheckRequired(o.values, true) != inputform.CheckOK
}

// chatKey returns the page-granted session key, if a handshake delivered one.
func (o *Orchestrator) chatKey() string {
	if o.page == nil {
		return ""
	}
	return o.page.ChatKey()
}
