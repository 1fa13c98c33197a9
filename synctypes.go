package gtdlog

// pullRequest is the body of POST /gtd/<token>/pull.
type pullRequest struct {
	Offs OffsetMap `json:"offs"`
}

// pullResponse is the body returned by a successful pull.
type pullResponse struct {
	Offs OffsetMap `json:"offs"`
	Data Payload   `json:"data"`
}

// pushRequest is the body of POST /gtd/<token>/push.
type pushRequest struct {
	Data Payload `json:"data"`
}
