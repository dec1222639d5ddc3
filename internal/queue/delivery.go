package queue

import (
	"fmt"

	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

// Delivery is a transport-agnostic message envelope. Context carries the
// transport's own handle for the message and is handed to the dispatcher
// untouched.
type Delivery struct {
	Raw     job.RawMessage
	Context job.DeliveryContext
	Ack     func() error
	Reject  func() error
	Requeue func() error
}

// Settle performs the transport call matching disp.
func Settle(d Delivery, disp job.Disposition) error {
	var fn func() error
	switch disp {
	case job.Ack:
		fn = d.Ack
	case job.Reject:
		fn = d.Reject
	case job.Requeue:
		fn = d.Requeue
	default:
		return fmt.Errorf("unknown disposition %d", int(disp))
	}
	if fn == nil {
		return fmt.Errorf("delivery cannot %s", disp)
	}
	return fn()
}
