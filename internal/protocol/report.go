package protocol

// Report is the JSON summary printed by the CLIs and sent to observers as the
// final RESULT message.
type Report struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	RunID      string `json:"run_id"`
	Model      string `json:"model"`
	Trace      string `json:"trace"`
	Resolution int    `json:"resolution"`

	Rounds   uint64 `json:"rounds"`
	Energy   int64  `json:"energy"`
	Halted   bool   `json:"halted"`
	Solution bool   `json:"solution"`

	Error *ReportError `json:"error,omitempty"`
}

type ReportError struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Round   uint64 `json:"round"`
	BotID   int    `json:"bot_id,omitempty"`
}

// NewReport fills the envelope fields.
func NewReport(runID, model, trace string, resolution int) Report {
	return Report{
		Type:            TypeReport,
		ProtocolVersion: Version,
		RunID:           runID,
		Model:           model,
		Trace:           trace,
		Resolution:      resolution,
	}
}

// OK reports a halted run with no error.
func (r Report) OK() bool { return r.Halted && r.Error == nil }
