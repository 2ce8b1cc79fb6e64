package xmtp

// Frame types exchanged with the bridge. Every frame is one JSON object
// with a "type" field; replies echo the request_id of their request.
const (
	frameMessage         = "message"          // bridge -> agent: a new message in any conversation
	frameReady           = "ready"            // bridge -> agent: client is synced, carries the agent's inbox id
	frameSent            = "sent"             // bridge -> agent: reply to send
	frameIdentity        = "identity"         // bridge -> agent: reply to resolve_identity
	frameError           = "error"            // bridge -> agent: a request failed
	frameSend            = "send"             // agent -> bridge
	frameResolveIdentity = "resolve_identity" // agent -> bridge
	frameSync            = "sync"             // agent -> bridge: sync conversations and start streaming
)

type frame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// message
	ID               string `json:"id,omitempty"`
	ConversationID   string `json:"conversation_id,omitempty"`
	ConversationKind string `json:"conversation_kind,omitempty"` // "group" or "dm"
	SenderInboxID    string `json:"sender_inbox_id,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	Content          string `json:"content,omitempty"`
	Fallback         string `json:"fallback,omitempty"`

	// ready, identity, resolve_identity
	InboxID string `json:"inbox_id,omitempty"`
	Address string `json:"address,omitempty"`

	// sent
	MessageID string `json:"message_id,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
