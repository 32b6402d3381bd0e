package internal

import "encoding/json"

// Message is the envelope for every frame exchanged with the store relay.
type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

const (
	MessageRequest = "request"
	MessageReply   = "reply"
	MessageEvent   = "event"
)

type StoreOp string

const (
	OpGet                StoreOp = "get"
	OpSet                StoreOp = "set"
	OpUpdate             StoreOp = "update"
	OpDelete             StoreOp = "delete"
	OpPush               StoreOp = "push"
	OpSubscribe          StoreOp = "subscribe"
	OpUnsubscribe        StoreOp = "unsubscribe"
	OpOnDisconnectDelete StoreOp = "on_disconnect_delete"
	OpCancelOnDisconnect StoreOp = "cancel_on_disconnect"
)

type StoreRequest struct {
	ID     uint64                     `json:"id"`
	Op     StoreOp                    `json:"op"`
	Path   string                     `json:"path"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	Sub    uint64                     `json:"sub,omitempty"`
}

type StoreReply struct {
	ID    uint64          `json:"id"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Code  ErrorCode       `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ErrorCode classifies a failed store request so clients can map it back to a
// sentinel error.
type ErrorCode string

const (
	CodeInvalidPath  ErrorCode = "invalid_path"
	CodeDisconnected ErrorCode = "disconnected"
	CodeRateLimited  ErrorCode = "rate_limited"
	CodeBadRequest   ErrorCode = "bad_request"
	CodeInternal     ErrorCode = "internal"
)

type StoreEvent struct {
	Sub   uint64          `json:"sub"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}

// RoomSummary is the read-only view of a room served over HTTP.
type RoomSummary struct {
	RoomID      string    `json:"room_id"`
	PlayerCount int       `json:"player_count"`
	Phase       GamePhase `json:"phase"`
	Round       int       `json:"round"`
	TimeLeft    int       `json:"time_left"`
}
