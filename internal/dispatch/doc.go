// Package dispatch turns a queue message into a unit of work, runs it and
// decides what the transport should do with the message.
//
// Process walks a fixed, linear state machine for every message:
//
//	SEEN -> INVALID                            (reject)
//	SEEN -> START -> EXCEPTION                 (requeue)
//	SEEN -> START -> SUCCESS                   (ack)
//	SEEN -> START -> REJECT                    (reject)
//	SEEN -> START -> FAILURE                   (requeue)
//
// Each transition emits one notification on the configured sink. Outcome to
// disposition mapping:
//   - reference does not resolve          -> Reject, never retried
//   - handler returns an error or panics  -> Requeue
//   - handler returns NoOutcome / Success -> Ack
//   - handler returns Rejected            -> Reject
//   - anything else, Retry included       -> Requeue
//
// Process never panics and never returns an error; the disposition is the
// only control-flow result. Retry counting and backoff belong to the
// transport.
package dispatch
