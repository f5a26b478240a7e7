package session

// Broker message envelopes. All payloads are JSON objects carrying a
// correlation id; replies echo the id of the command they answer.

// Reply codes.
const (
	// CodeSuccess acknowledges a fully applied command.
	CodeSuccess = 200

	// CodeFailure acknowledges a command that could not be decoded or
	// applied. The command is still acknowledged: the broker must never
	// redeliver a poison message forever.
	CodeFailure = 400
)

// messageVersion is the protocol version stamped on outbound messages.
const messageVersion = "1.0"

// CommandMessage is an inbound property-set request.
type CommandMessage struct {
	ID      string         `json:"id"`
	Version string         `json:"version,omitempty"`
	Params  map[string]any `json:"params"`
}

// ReplyMessage acknowledges a CommandMessage.
type ReplyMessage struct {
	ID      string         `json:"id"`
	Code    int            `json:"code"`
	Data    map[string]any `json:"data"`
	Version string         `json:"version,omitempty"`
}

// ReportMessage is an outbound property report.
type ReportMessage struct {
	ID      string             `json:"id"`
	Version string             `json:"version"`
	Params  map[string]float64 `json:"params"`
}
