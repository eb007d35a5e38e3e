package backend

// Rejection reasons returned in Outcomes. These are stable strings: peers,
// logs, and tests match on them.
const (
	ReasonMalformedEvent         = "malformed_event"
	ReasonInvalidProof           = "invalid_proof"
	ReasonInvalidSignature       = "invalid_signature"
	ReasonInsufficientSignatures = "insufficient_signatures"
	ReasonQuorumNotReached       = "quorum_not_reached"
	ReasonTamperedHistory        = "tampered_history"
)

// Outcome is the result of submitting one event to the acceptance policy.
// Rejections are data, not errors: a malformed or forged event from the
// network produces a rejected Outcome and the node moves on. The error
// channel next to an Outcome is reserved for infrastructure failures, such
// as the audit log refusing a durable write.
type Outcome struct {
	// EventID names the event the Outcome is about.
	EventID string

	// Accepted is true when the event entered history, including the
	// duplicate case.
	Accepted bool

	// Duplicate is true when the event was already in history and the
	// call was a no-op.
	Duplicate bool

	// Reason is one of the Reason constants when Accepted is false.
	Reason string

	// Detail is a human-readable elaboration of Reason.
	Detail string
}

func acceptedOutcome(eventID string) *Outcome {
	return &Outcome{EventID: eventID, Accepted: true}
}

func duplicateOutcome(eventID string) *Outcome {
	return &Outcome{EventID: eventID, Accepted: true, Duplicate: true}
}

func rejectedOutcome(eventID string, reason string, detail string) *Outcome {
	return &Outcome{EventID: eventID, Reason: reason, Detail: detail}
}
