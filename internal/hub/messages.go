package hub

import "encoding/json"

// MessageType identifies a real-time notification kind.
type MessageType string

const (
	MessageUploadProgress     MessageType = "upload_progress"
	MessagePreviewReady       MessageType = "preview_ready"
	MessageProcessingComplete MessageType = "processing_complete"
	MessageApprovalChanged    MessageType = "approval_changed"
	MessageServerShutdown     MessageType = "server_shutdown"

	messageAuthenticated MessageType = "authenticated"
	messageDenied        MessageType = "denied"
)

// Message is one notification addressed to an event room.
type Message struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

// authRequest is the first frame a client must send after connecting.
type authRequest struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	EventID string `json:"event_id"`
}
