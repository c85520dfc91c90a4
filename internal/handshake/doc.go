// Package handshake implements the widget <-> hosting page negotiation.
//
// The protocol is an informal, versionless set of JSON messages. Typed
// messages carry a "type" discriminator; two legacy messages (chatConfig,
// chatWidgetConfig) are recognized by key presence alone, and two
// announcements (IFRAME_LOADED, CLOSE_IFRAME) are bare JSON strings.
// Unknown messages are ignored, keeping the contract additive.
//
// Trust is first-writer-wins: the first dify-chatbot-config message pins the
// page origin, and every later keyed message from any other origin is
// silently dropped. Drops are protocol errors, never surfaced to the user.
package handshake
