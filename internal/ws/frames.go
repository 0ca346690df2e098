package ws

// Frame types exchanged over the socket.
const (
	FrameSend       = "send"
	FrameAck        = "ack"
	FrameError      = "error"
	FrameSuperseded = "superseded"
)

// ClientFrame is a frame sent by the client. Only "send" is understood.
type ClientFrame struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	Recipient      string `json:"recipient,omitempty"`
	Body           string `json:"body,omitempty"`
	FileID         *uint  `json:"file_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// AckFrame confirms that a "send" frame was stored.
type AckFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	MessageID uint   `json:"message_id"`
	Delivery  string `json:"delivery"`
	Replayed  bool   `json:"replayed"`
}

// ErrorFrame rejects a client frame. Codes match the HTTP error codes.
type ErrorFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NoticeFrame is a server notice with no payload.
type NoticeFrame struct {
	Type string `json:"type"`
}
