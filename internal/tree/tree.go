// ABOUTME: Builds a navigable branching chat structure from a flat message log
// ABOUTME: Each raw record expands into a question and an answer item with sibling metadata

package tree

import (
	"encoding/json"
	"sort"
	"strings"
)

// QuestionPrefix derives question item ids from the underlying message id.
const QuestionPrefix = "question-"

// Rating values accepted by the feedback endpoint.
const (
	RatingLike    = "like"
	RatingDislike = "dislike"
)

// Feedback is a user rating on an answer, with optional free text.
type Feedback struct {
	Rating  string `json:"rating"`
	Content string `json:"content,omitempty"`
}

// Annotation is an authored override of an answer's content.
type Annotation struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	AuthorID string `json:"account_id,omitempty"`
}

// MessageFile is an attachment descriptor on a raw message.
// BelongsTo decides whether the file attaches to the question or the answer.
type MessageFile struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	BelongsTo string `json:"belongs_to"`
	RelatedID string `json:"related_id,omitempty"`
}

// File ownership values for MessageFile.BelongsTo.
const (
	FileBelongsToUser      = "user"
	FileBelongsToAssistant = "assistant"
)

// AgentThought is an intermediate reasoning step recorded on an answer.
type AgentThought struct {
	ID          string   `json:"id"`
	Position    int      `json:"position"`
	Thought     string   `json:"thought"`
	Tool        string   `json:"tool,omitempty"`
	ToolInput   string   `json:"tool_input,omitempty"`
	Observation string   `json:"observation,omitempty"`
	Files       []string `json:"message_files,omitempty"`
}

// RawMessage is one question/answer record as returned by the message page
// endpoint, in chronological order.
type RawMessage struct {
	ID                 string            `json:"id"`
	ConversationID     string            `json:"conversation_id,omitempty"`
	Query              string            `json:"query"`
	Answer             string            `json:"answer"`
	ParentMessageID    string            `json:"parent_message_id,omitempty"`
	Inputs             map[string]any    `json:"inputs,omitempty"`
	MessageFiles       []MessageFile     `json:"message_files,omitempty"`
	AgentThoughts      []AgentThought    `json:"agent_thoughts,omitempty"`
	Feedback           *Feedback         `json:"feedback,omitempty"`
	Annotation         *Annotation       `json:"annotation,omitempty"`
	RetrieverResources []json.RawMessage `json:"retriever_resources,omitempty"`
	CreatedAt          int64             `json:"created_at"`
}

// ChatItem is a single question or answer unit in the active chat list.
// Sibling fields are computed by Build and are not authoritative data.
type ChatItem struct {
	ID              string            `json:"id"`
	ParentMessageID string            `json:"parent_message_id,omitempty"`
	IsAnswer        bool              `json:"is_answer"`
	Content         string            `json:"content"`
	Timestamp       int64             `json:"timestamp"`
	Feedback        *Feedback         `json:"feedback,omitempty"`
	Annotation      *Annotation       `json:"annotation,omitempty"`
	Files           []MessageFile     `json:"files,omitempty"`
	AgentThoughts   []AgentThought    `json:"agent_thoughts,omitempty"`
	Citations       []json.RawMessage `json:"citations,omitempty"`
	IsError         bool              `json:"is_error,omitempty"`

	SiblingIndex int    `json:"sibling_index"`
	SiblingCount int    `json:"sibling_count"`
	PrevSibling  string `json:"prev_sibling,omitempty"`
	NextSibling  string `json:"next_sibling,omitempty"`
}

// Build expands raw messages into a flat ChatItem list and annotates every
// item with sibling metadata. Each record yields exactly one question item
// (id "question-<messageID>") and one answer item (id <messageID>), the
// answer parented on its question.
//
// Items whose parent does not appear earlier in the produced list are treated
// as roots: their parent reference is cleared and they join the synthetic
// root bucket for sibling accounting. A regenerated answer therefore shows up
// as a sibling of the original without any special casing here.
func Build(raw []RawMessage) []ChatItem {
	items := make([]ChatItem, 0, len(raw)*2)
	for _, m := range raw {
		items = append(items, questionItem(m), answerItem(m))
	}
	annotateSiblings(items)
	return items
}

func questionItem(m RawMessage) ChatItem {
	// A parent reference carrying the question prefix points into the middle
	// of a turn; normalize it to the answer that completes that turn.
	parent := strings.TrimPrefix(m.ParentMessageID, QuestionPrefix)
	return ChatItem{
		ID:              QuestionPrefix + m.ID,
		ParentMessageID: parent,
		IsAnswer:        false,
		Content:         m.Query,
		Timestamp:       m.CreatedAt,
		Files:           filesBelongingTo(m.MessageFiles, FileBelongsToUser),
	}
}

func answerItem(m RawMessage) ChatItem {
	return ChatItem{
		ID:              m.ID,
		ParentMessageID: QuestionPrefix + m.ID,
		IsAnswer:        true,
		Content:         m.Answer,
		Timestamp:       m.CreatedAt,
		Feedback:        m.Feedback,
		Annotation:      m.Annotation,
		Files:           filesBelongingTo(m.MessageFiles, FileBelongsToAssistant),
		AgentThoughts:   sortedThoughts(m.AgentThoughts),
		Citations:       m.RetrieverResources,
	}
}

func filesBelongingTo(files []MessageFile, owner string) []MessageFile {
	var out []MessageFile
	for _, f := range files {
		if f.BelongsTo == owner {
			if f.RelatedID == "" {
				f.RelatedID = f.ID
			}
			out = append(out, f)
		}
	}
	return out
}

func sortedThoughts(thoughts []AgentThought) []AgentThought {
	if len(thoughts) == 0 {
		return nil
	}
	out := make([]AgentThought, len(thoughts))
	copy(out, thoughts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// annotateSiblings groups items by parent reference and fills in sibling
// index, count, and adjacent ids in list order. Orphaned parent references
// are normalized to the synthetic root bucket.
func annotateSiblings(items []ChatItem) {
	seen := make(map[string]bool, len(items))
	buckets := make(map[string][]int)
	order := make([]string, 0)

	for i := range items {
		parent := items[i].ParentMessageID
		if parent != "" && !seen[parent] {
			// Orphan: tolerate by treating the item as a root.
			items[i].ParentMessageID = ""
			parent = ""
		}
		if _, ok := buckets[parent]; !ok {
			order = append(order, parent)
		}
		buckets[parent] = append(buckets[parent], i)
		seen[items[i].ID] = true
	}

	for _, parent := range order {
		group := buckets[parent]
		for pos, idx := range group {
			items[idx].SiblingIndex = pos
			items[idx].SiblingCount = len(group)
			if pos > 0 {
				items[idx].PrevSibling = items[group[pos-1]].ID
			}
			if pos < len(group)-1 {
				items[idx].NextSibling = items[group[pos+1]].ID
			}
		}
	}
}
