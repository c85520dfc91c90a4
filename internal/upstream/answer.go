// ABOUTME: Answer stream collaborator over the backend's streaming endpoint
// ABOUTME: Best-effort cancellation via an abort handle; late chunks are the caller's problem

package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Answer stream event kinds.
const (
	AnswerEventMessage = "message"
	AnswerEventEnd     = "message_end"
	AnswerEventError   = "error"
)

// AnswerRequest describes one send or regenerate.
type AnswerRequest struct {
	Query           string         `json:"query"`
	Inputs          map[string]any `json:"inputs"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	Files           []any          `json:"files,omitempty"`
	User            string         `json:"user,omitempty"`
}

// AnswerChunk is one event of the opaque answer stream.
type AnswerChunk struct {
	Event          string `json:"event"`
	Answer         string `json:"answer,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
	CreatedAt      int64  `json:"created_at,omitempty"`
	ErrorMessage   string `json:"message,omitempty"`
}

// AnswerStream is a live answer stream with its abort handle. Stop is
// best-effort and not instantaneous; callers must discard chunks that
// arrive after they abandoned the stream.
type AnswerStream struct {
	Chunks <-chan AnswerChunk
	Stop   func()
}

// streamChannelBuffer matches the subscriber buffering used elsewhere in
// the gateway.
const streamChannelBuffer = 64

// StreamAnswer opens an answer stream for the request. The returned
// channel is closed when the stream ends, errors, or is stopped.
func (c *Client) StreamAnswer(ctx context.Context, req *AnswerRequest) (*AnswerStream, error) {
	body := struct {
		*AnswerRequest
		ResponseMode string `json:"response_mode"`
	}{AnswerRequest: req, ResponseMode: "streaming"}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding answer request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/chat-messages", bytes.NewReader(data))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating answer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Streaming requests must not inherit the short request timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening answer stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("opening answer stream: unexpected status %d", resp.StatusCode)
	}

	chunks := make(chan AnswerChunk, streamChannelBuffer)
	var mu sync.Mutex
	var taskID string

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var chunk AnswerChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				c.logger.Warn("discarding malformed stream chunk", "error", err)
				continue
			}
			if chunk.TaskID != "" {
				mu.Lock()
				taskID = chunk.TaskID
				mu.Unlock()
			}
			select {
			case chunks <- chunk:
			case <-streamCtx.Done():
				return
			}
			if chunk.Event == AnswerEventEnd || chunk.Event == AnswerEventError {
				return
			}
		}
	}()

	stop := func() {
		cancel()
		mu.Lock()
		taskID := taskID
		mu.Unlock()
		if taskID != "" {
			// Abort signal to the backend; the local stream is already dead.
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = c.postJSON(stopCtx, "/chat-messages/"+taskID+"/stop", map[string]string{}, nil)
		}
	}

	return &AnswerStream{Chunks: chunks, Stop: stop}, nil
}
