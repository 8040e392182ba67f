package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// client -> server
	TypeJoin          = "JOIN"
	TypeChat          = "CHAT"
	TypeCharCustomize = "CHAR_CUSTOMIZE"
	TypeDisconnect    = "DISCONNECT"
	TypeMove          = "MOVE"

	// server -> client
	TypeWelcome       = "WELCOME"
	TypeLocationState = "LOCATION_STATE"
	TypeDayEnded      = "DAY_ENDED"
	TypeDayStarted    = "DAY_STARTED"
	TypePassout       = "PASSOUT"
	TypeWarp          = "WARP"
	TypeNotice        = "NOTICE"
	TypeKick          = "KICK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
