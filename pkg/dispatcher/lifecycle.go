package dispatcher

import (
	"sync"
	"time"

	"github.com/morezero/rpc-dispatch/pkg/envelope"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
)

// lifecycle guards the three-way termination race of one subscription.
// Exactly one signal wins; decide is the atomic check-and-set every branch
// must pass before any side effect runs.
type lifecycle struct {
	mu      sync.Mutex
	decided bool
}

func (l *lifecycle) decide() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.decided {
		return false
	}
	l.decided = true
	return true
}

// awaitSubscription races the handle's terminal outcome against client
// disconnect and the deadline timer, and converts the winner into the
// response:
//
//   - outcome first: success (or failure) envelope from the outcome
//   - disconnect first: Stop(closed), no envelope (nil return)
//   - deadline first: Stop(timeout), 408 envelope
//
// The timer is stopped on every exit path; the losing signals are abandoned
// before the winning branch's side effects run.
func (d *Dispatcher) awaitSubscription(req *Request, sub procedure.Subscription) *envelope.Envelope {
	timer := time.NewTimer(d.subscriptionTimeout)
	defer timer.Stop()

	lc := &lifecycle{}

	// A nil ClientGone blocks forever, which disables the disconnect arm.
	clientGone := req.ClientGone

	select {
	case out := <-sub.Outcome():
		if !lc.decide() {
			return nil
		}
		timer.Stop()
		if out.Err != nil {
			return envelope.FromError(out.Err, d.exposeStack)
		}
		return d.successEnvelope(req, out.Output)

	case <-clientGone:
		if !lc.decide() {
			return nil
		}
		timer.Stop()
		sub.Stop(procedure.StopClosed)
		return nil

	case <-timer.C:
		if !lc.decide() {
			return nil
		}
		sub.Stop(procedure.StopTimeout)
		return envelope.FromError(
			procedure.NewSubscriptionTimeout(d.subscriptionTimeout.Milliseconds()),
			d.exposeStack)
	}
}
