// ABOUTME: Decodes URL query parameters carried by the owning page
// ABOUTME: Splits reserved, system, user, and input-variable overrides

package params

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// Reserved query parameter names.
const (
	ParamConversationID = "conversation_id"
	ParamLocale         = "locale"
)

// Prefixes for namespaced variable overrides.
const (
	systemPrefix = "sys."
	userPrefix   = "user."
)

// SystemVariables are the reserved engine-level overrides, usually injected
// by an SSO handoff.
type SystemVariables struct {
	UserID         string
	ConversationID string
	Locale         string
}

// Params is everything the engine consumes from the owning page's query
// string. Inputs and UserVariables are opaque to the engine beyond matching
// the input-form schema.
type Params struct {
	ConversationID string
	Locale         string
	System         SystemVariables
	Inputs         map[string]any
	UserVariables  map[string]any
}

// Decode splits the query values into reserved parameters, system variables
// (sys. prefix), user variables (user. prefix), and input-form overrides
// (everything else). Override values may be base64-encoded to survive URL
// mangling; undecodable values are taken verbatim.
func Decode(query url.Values) Params {
	p := Params{
		ConversationID: query.Get(ParamConversationID),
		Locale:         query.Get(ParamLocale),
		Inputs:         make(map[string]any),
		UserVariables:  make(map[string]any),
	}

	for key, values := range query {
		if len(values) == 0 || key == ParamConversationID || key == ParamLocale {
			continue
		}
		value := decodeValue(values[0])

		switch {
		case strings.HasPrefix(key, systemPrefix):
			switch strings.TrimPrefix(key, systemPrefix) {
			case "user_id":
				p.System.UserID = value
			case "conversation_id":
				p.System.ConversationID = value
			case "locale":
				p.System.Locale = value
			}
		case strings.HasPrefix(key, userPrefix):
			p.UserVariables[strings.TrimPrefix(key, userPrefix)] = value
		default:
			p.Inputs[key] = value
		}
	}

	// System-level ids fill in when the plain parameters are absent.
	if p.ConversationID == "" {
		p.ConversationID = p.System.ConversationID
	}
	return p
}

// ResolveLocale applies the locale precedence: explicit URL parameter, then
// the encoded system variable, then the application default.
func (p Params) ResolveLocale(appDefault string) string {
	if p.Locale != "" {
		return p.Locale
	}
	if p.System.Locale != "" {
		return p.System.Locale
	}
	return appDefault
}

func decodeValue(raw string) string {
	if raw == "" {
		return ""
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && isPrintable(decoded) {
		return string(decoded)
	}
	return raw
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x09 || (c > 0x0d && c < 0x20) || c > 0x7e && c < 0xa0 {
			return false
		}
	}
	return true
}
