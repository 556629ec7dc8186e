package observerproto

import "nanofab.ai/internal/protocol"

// Version is the observer protocol version (separate from the run report).
const Version = "1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeRound     = "ROUND"
	TypeResult    = "RESULT"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	IncludeCells    bool   `json:"include_cells,omitempty"`
}

// HTTP response for GET /v1/observe/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	RunID           string    `json:"run_id"`
	Round           uint64    `json:"round"`
	RunParams       RunParams `json:"run_params"`
}

type RunParams struct {
	Model      string `json:"model"`
	Trace      string `json:"trace"`
	Resolution int    `json:"resolution"`
	SeedCount  int    `json:"seed_count"`
	MaxRounds  uint64 `json:"max_rounds,omitempty"`
}

// Server -> Client. Sent for every committed round.
type RoundMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Round           uint64 `json:"round"`

	Energy    int64  `json:"energy"`
	Harmonics string `json:"harmonics"`
	Bots      int    `json:"bots"`
	FullCells int    `json:"full_cells"`
	Halted    bool   `json:"halted,omitempty"`

	Instructions []RoundInstruction `json:"instructions,omitempty"`
	// Cells is only filled for sessions that asked for include_cells.
	Cells []Cell `json:"cells,omitempty"`
}

type RoundInstruction struct {
	BotID int    `json:"bot_id"`
	Text  string `json:"text"`
}

type Cell struct {
	Pos  [3]int `json:"pos"`
	Full bool   `json:"full"`
}

// Server -> Client. Sent once when the run ends; late subscribers receive it
// right after SUBSCRIBE.
type ResultMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Report          protocol.Report `json:"report"`
}
