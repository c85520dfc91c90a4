// ABOUTME: Conversation list retrieval and server-side name generation
// ABOUTME: Pinned and regular lists share one wire shape

package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aivie/widget-gateway/internal/catalog"
)

// DefaultConversationPageSize matches the widget's single-page fetch.
const DefaultConversationPageSize = 100

type conversationListResponse struct {
	Data []catalog.Item `json:"data"`
}

// FetchConversations retrieves the pinned or regular conversation list,
// newest first. A limit of zero uses the default page size.
func (c *Client) FetchConversations(ctx context.Context, pinned bool, limit int) ([]catalog.Item, error) {
	if limit <= 0 {
		limit = DefaultConversationPageSize
	}
	query := url.Values{
		"pinned": {strconv.FormatBool(pinned)},
		"limit":  {strconv.Itoa(limit)},
	}

	var resp conversationListResponse
	if err := c.getJSON(ctx, "/conversations?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	return resp.Data, nil
}

// GenerateConversationName asks the backend to name a freshly created
// conversation and returns the confirmed entry.
func (c *Client) GenerateConversationName(ctx context.Context, conversationID string) (catalog.Item, error) {
	var item catalog.Item
	path := "/conversations/" + url.PathEscape(conversationID) + "/name"
	if err := c.postJSON(ctx, path, map[string]bool{"auto_generate": true}, &item); err != nil {
		return catalog.Item{}, fmt.Errorf("generating conversation name: %w", err)
	}
	return item, nil
}
