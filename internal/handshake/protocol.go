// ABOUTME: Cross-window handshake contract between the widget and its hosting page
// ABOUTME: Tagged-union messages with first-writer-wins trusted-origin pinning

package handshake

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Message type discriminators sent by the widget.
const (
	TypeIframeLoaded = "IFRAME_LOADED"
	TypeIframeReady  = "dify-chatbot-iframe-ready"
	TypeCloseIframe  = "CLOSE_IFRAME"
	TypeExpandChange = "dify-chatbot-expand-change"
)

// TypeChatbotConfig is the host message whose origin pins the trusted origin
// for the rest of the session.
const TypeChatbotConfig = "dify-chatbot-config"

// Host message keys. These host messages are not type-discriminated; the
// presence of the key identifies them.
const (
	keyChatConfig   = "chatConfig"
	keyWidgetConfig = "chatWidgetConfig"
)

// TargetAny addresses the message to any origin. Only the unauthenticated
// minimize signal and the initial load announcements may use it.
const TargetAny = "*"

// ChatbotConfigPayload is the payload of a dify-chatbot-config message.
type ChatbotConfigPayload struct {
	IsToggledByButton bool `json:"isToggledByButton"`
	IsDraggable       bool `json:"isDraggable"`
}

// ChatConfig is the session configuration a host may inject.
type ChatConfig struct {
	Key             string `json:"key,omitempty"`
	ShowConfigPanel *bool  `json:"showConfigPanel,omitempty"`
}

// WidgetConfig carries presence-indicator branding from the host.
type WidgetConfig struct {
	AvatarName        string `json:"avatar_name,omitempty"`
	AvatarIconBgColor string `json:"avatar_icon_bgcolor,omitempty"`
}

// Sender delivers a raw message to the hosting page, addressed to a target
// origin.
type Sender interface {
	Send(ctx context.Context, targetOrigin string, message json.RawMessage) error
}

// Events are the peer's callbacks into the session. Any of them may be nil.
type Events struct {
	OnChatKey         func(key string)
	OnShowConfigPanel func(show bool)
	OnAvatar          func(name, iconBgColor string)
	OnUntrustedDrop   func(origin string)
}

// Peer is the widget side of the handshake. It classifies inbound host
// messages, enforces the trusted-origin invariant, and emits the widget's
// lifecycle signals. Unknown message shapes are ignored; the contract is
// informal and additive.
type Peer struct {
	mu                sync.Mutex
	sender            Sender
	events            Events
	trustedOrigin     string
	showExpandControl bool
	expanded          bool
	chatKey           string
	showConfigPanel   *bool
	avatarName        string
	avatarBgColor     string
	logger            *slog.Logger
}

// NewPeer creates a widget-side handshake peer. Pass nil logger for the
// default.
func NewPeer(sender Sender, events Events, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Peer{
		sender: sender,
		events: events,
		logger: logger.With("component", "handshake"),
	}
}

// AnnounceLoaded sends the bare IFRAME_LOADED signal on widget load.
func (p *Peer) AnnounceLoaded(ctx context.Context) error {
	return p.send(ctx, TargetAny, TypeIframeLoaded)
}

// AnnounceReady sends the typed ready message once the widget listens for
// host messages.
func (p *Peer) AnnounceReady(ctx context.Context) error {
	return p.send(ctx, TargetAny, struct {
		Type string `json:"type"`
	}{Type: TypeIframeReady})
}

// RequestMinimize asks the host to minimize the iframe. Before an origin is
// pinned this is the one signal allowed to target any origin.
func (p *Peer) RequestMinimize(ctx context.Context) error {
	p.mu.Lock()
	target := p.trustedOrigin
	p.mu.Unlock()
	if target == "" {
		target = TargetAny
	}
	return p.send(ctx, target, TypeCloseIframe)
}

// ToggleExpand flips the expand state and acknowledges it to the host.
// It is a no-op unless the host granted the expand control and an origin is
// pinned; the new state is returned.
func (p *Peer) ToggleExpand(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if !p.showExpandControl || p.trustedOrigin == "" {
		expanded := p.expanded
		p.mu.Unlock()
		return expanded, nil
	}
	p.expanded = !p.expanded
	expanded := p.expanded
	target := p.trustedOrigin
	p.mu.Unlock()

	err := p.send(ctx, target, struct {
		Type string `json:"type"`
	}{Type: TypeExpandChange})
	return expanded, err
}

// HandleMessage processes one inbound host message. Messages from an origin
// other than the pinned one are silently dropped; before pinning,
// configuration messages are accepted from any origin.
func (p *Peer) HandleMessage(origin string, data []byte) {
	var typed struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		// Not an object; nothing the widget understands arrives this way.
		return
	}

	if typed.Type == TypeChatbotConfig {
		p.handleChatbotConfig(origin, typed.Payload)
		return
	}

	if !p.originTrusted(origin) {
		p.logger.Debug("dropping message from untrusted origin", "origin", origin)
		if p.events.OnUntrustedDrop != nil {
			p.events.OnUntrustedDrop(origin)
		}
		return
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		return
	}
	if raw, ok := keyed[keyChatConfig]; ok {
		p.handleChatConfig(raw)
	}
	if raw, ok := keyed[keyWidgetConfig]; ok {
		p.handleWidgetConfig(raw)
	}
}

// handleChatbotConfig pins the trusted origin (first writer wins) and
// derives whether the widget shows its own expand/collapse control.
func (p *Peer) handleChatbotConfig(origin string, payload json.RawMessage) {
	p.mu.Lock()
	if p.trustedOrigin == "" {
		p.trustedOrigin = origin
		p.logger.Info("trusted origin pinned", "origin", origin)
	}
	if origin != p.trustedOrigin {
		p.mu.Unlock()
		p.logger.Debug("dropping config from untrusted origin", "origin", origin)
		if p.events.OnUntrustedDrop != nil {
			p.events.OnUntrustedDrop(origin)
		}
		return
	}

	var cfg ChatbotConfigPayload
	if err := json.Unmarshal(payload, &cfg); err != nil {
		p.mu.Unlock()
		return
	}
	p.showExpandControl = cfg.IsToggledByButton && !cfg.IsDraggable
	p.mu.Unlock()
}

func (p *Peer) handleChatConfig(raw json.RawMessage) {
	var cfg ChatConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return
	}

	p.mu.Lock()
	var keyChanged bool
	if cfg.Key != "" && cfg.Key != p.chatKey {
		p.chatKey = cfg.Key
		keyChanged = true
	}
	if cfg.ShowConfigPanel != nil {
		p.showConfigPanel = cfg.ShowConfigPanel
	}
	events := p.events
	key := p.chatKey
	p.mu.Unlock()

	if keyChanged && events.OnChatKey != nil {
		events.OnChatKey(key)
	}
	if cfg.ShowConfigPanel != nil && events.OnShowConfigPanel != nil {
		events.OnShowConfigPanel(*cfg.ShowConfigPanel)
	}
}

func (p *Peer) handleWidgetConfig(raw json.RawMessage) {
	var cfg WidgetConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return
	}

	p.mu.Lock()
	if cfg.AvatarName != "" {
		p.avatarName = cfg.AvatarName
	}
	if cfg.AvatarIconBgColor != "" {
		p.avatarBgColor = cfg.AvatarIconBgColor
	}
	name, bg := p.avatarName, p.avatarBgColor
	events := p.events
	p.mu.Unlock()

	if events.OnAvatar != nil {
		events.OnAvatar(name, bg)
	}
}

func (p *Peer) originTrusted(origin string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trustedOrigin == "" || origin == p.trustedOrigin
}

// TrustedOrigin returns the pinned origin, empty until the first
// dify-chatbot-config message arrives.
func (p *Peer) TrustedOrigin() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trustedOrigin
}

// ShowExpandControl reports whether the widget renders its own
// expand/collapse control.
func (p *Peer) ShowExpandControl() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showExpandControl
}

// ChatKey returns the opaque session key injected by the host, if any.
func (p *Peer) ChatKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatKey
}

// ShowConfigPanelOverride returns the host's config panel override, nil when
// the host did not specify one.
func (p *Peer) ShowConfigPanelOverride() *bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showConfigPanel
}

// Avatar returns the presence-indicator branding.
func (p *Peer) Avatar() (name, iconBgColor string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avatarName, p.avatarBgColor
}

func (p *Peer) send(ctx context.Context, target string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.sender.Send(ctx, target, data)
}
