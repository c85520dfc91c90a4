// ABOUTME: Application metadata, parameters, and meta fetchers
// ABOUTME: Failures here are the one fatal error class for the widget

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
)

// Site holds the widget-facing application presentation settings.
type Site struct {
	Title           string `json:"title"`
	IconURL         string `json:"icon_url,omitempty"`
	DefaultLanguage string `json:"default_language,omitempty"`
	ChatColorTheme  string `json:"chat_color_theme,omitempty"`
}

// CustomConfig holds per-tenant branding overrides.
type CustomConfig struct {
	RemoveWebappBrand bool   `json:"remove_webapp_brand,omitempty"`
	ReplaceWebappLogo string `json:"replace_webapp_logo,omitempty"`
}

// AppInfo is the application identity and presentation payload.
type AppInfo struct {
	AppID        string        `json:"app_id"`
	Site         Site          `json:"site"`
	CustomConfig *CustomConfig `json:"custom_config,omitempty"`
}

// AppParams carries the server-described input-form schema plus opaque
// feature toggles the engine does not interpret.
type AppParams struct {
	UserInputForm []json.RawMessage          `json:"user_input_form"`
	Features      map[string]json.RawMessage `json:"-"`
}

// AppMeta is opaque tool metadata forwarded to the renderer.
type AppMeta struct {
	ToolIcons map[string]json.RawMessage `json:"tool_icons,omitempty"`
}

// FetchAppInfo retrieves application identity and site settings.
func (c *Client) FetchAppInfo(ctx context.Context) (*AppInfo, error) {
	var info AppInfo
	if err := c.getJSON(ctx, "/app/info", &info); err != nil {
		return nil, fmt.Errorf("fetching app info: %w", err)
	}
	return &info, nil
}

// FetchAppParams retrieves the input-form schema and feature toggles.
func (c *Client) FetchAppParams(ctx context.Context) (*AppParams, error) {
	var params AppParams
	if err := c.getJSON(ctx, "/app/parameters", &params); err != nil {
		return nil, fmt.Errorf("fetching app parameters: %w", err)
	}
	return &params, nil
}

// FetchAppMeta retrieves tool metadata.
func (c *Client) FetchAppMeta(ctx context.Context) (*AppMeta, error) {
	var meta AppMeta
	if err := c.getJSON(ctx, "/app/meta", &meta); err != nil {
		return nil, fmt.Errorf("fetching app meta: %w", err)
	}
	return &meta, nil
}
