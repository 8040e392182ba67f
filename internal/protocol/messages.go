package protocol

// JOIN (client -> server). IdentityToken is empty on a first connect; the
// server mints one and hands it back in WELCOME so the same farmhand can
// reconnect as the same identity later.
type JoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	IdentityToken   string `json:"identity_token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Identity        int64  `json:"identity"`
	IdentityToken   string `json:"identity_token"`
	FarmName        string `json:"farm_name"`
	Day             int    `json:"day"`
	TickRateHz      int    `json:"tick_rate_hz"`
}

// CHAT (client -> server)
type ChatMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Text            string `json:"text"`
}

// CHAR_CUSTOMIZE (client -> server): the farmhand finished (or is still in)
// the appearance/naming flow.
type CharCustomizeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Complete        bool   `json:"complete"`
	Name            string `json:"name,omitempty"`
}

// MOVE (client -> server)
type MoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

// DISCONNECT (either direction). Reason is set on server-initiated closes.
type DisconnectMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Reason          string `json:"reason,omitempty"`
}

// Building is one constructed structure inside a location snapshot.
type Building struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Owner    int64  `json:"owner,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Interior string `json:"interior,omitempty"`
}

// LOCATION_STATE (server -> client): authoritative snapshot of one location.
type LocationStateMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Location        string     `json:"location"`
	Buildings       []Building `json:"buildings,omitempty"`
	Occupants       []int64    `json:"occupants,omitempty"`
}

// DAY_ENDED / DAY_STARTED (server -> client, broadcast)
type DayEndedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Day             int    `json:"day"`
}

type DayStartedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Day             int    `json:"day"`
}

// PASSOUT (server -> client): join a day transition already in flight.
type PassoutMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Day             int    `json:"day"`
}

// WARP (server -> client)
type WarpMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Location        string `json:"location"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

// NOTICE (server -> client): private plain-text lines, never broadcast.
type NoticeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Lines           []string `json:"lines"`
}

// KICK (server -> client): human-readable reason, sent before the close.
type KickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Reason          string `json:"reason"`
}
