package job

// Disposition is the final consumer decision handed back to the transport.
type Disposition int

const (
	Ack Disposition = iota
	Reject
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Outcome is what a handler reports about the message it processed.
// Any value outside the declared constants is treated as a failure.
type Outcome int

const (
	// NoOutcome is the zero value: the handler signalled nothing and the
	// message is acknowledged.
	NoOutcome Outcome = iota
	Success
	Rejected
	Retry
)

func (o Outcome) String() string {
	switch o {
	case NoOutcome:
		return "none"
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case Retry:
		return "retry"
	default:
		return "unrecognized"
	}
}
