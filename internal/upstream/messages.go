// ABOUTME: Message page retrieval and feedback submission
// ABOUTME: The message page feeds the tree builder; feedback is rating plus free text

package upstream

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aivie/widget-gateway/internal/tree"
)

type messageListResponse struct {
	Data []tree.RawMessage `json:"data"`
}

// FetchChatList retrieves the full message page for a conversation in
// chronological order.
func (c *Client) FetchChatList(ctx context.Context, conversationID string) ([]tree.RawMessage, error) {
	query := url.Values{"conversation_id": {conversationID}}

	var resp messageListResponse
	if err := c.getJSON(ctx, "/messages?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetching chat list: %w", err)
	}
	return resp.Data, nil
}

// SubmitFeedback posts a rating (and optional free text) for a message.
func (c *Client) SubmitFeedback(ctx context.Context, messageID string, feedback tree.Feedback) error {
	path := "/messages/" + url.PathEscape(messageID) + "/feedbacks"
	if err := c.postJSON(ctx, path, feedback, nil); err != nil {
		return fmt.Errorf("submitting feedback: %w", err)
	}
	return nil
}
