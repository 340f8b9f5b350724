package signaling

import (
	"context"
)

const outboxSize = 64

// Outbox is a single-writer goroutine that delivers messages to a Client in
// post order, applying a RetryPolicy to each one. A message that still fails
// after its retries is handed to the failure callback and the next message is
// attempted.
type Outbox struct {
	client Client
	policy RetryPolicy
	onFail func(Message, error)

	inbox chan Message
	done  chan struct{}
}

// NewOutbox starts the delivery loop. It exits when ctx is cancelled; messages
// still queued at that point are discarded.
func NewOutbox(ctx context.Context, client Client, policy RetryPolicy, onFail func(Message, error)) *Outbox {
	o := &Outbox{
		client: client,
		policy: policy,
		onFail: onFail,
		inbox:  make(chan Message, outboxSize),
		done:   make(chan struct{}),
	}
	go o.loop(ctx)
	return o
}

// Post enqueues msg. It blocks while the queue is full and returns false if
// the outbox has stopped.
func (o *Outbox) Post(ctx context.Context, msg Message) bool {
	select {
	case o.inbox <- msg:
		return true
	case <-o.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Done is closed when the delivery loop has exited.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) loop(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case msg := <-o.inbox:
			err := o.policy.Do(ctx, func() error {
				return o.client.Send(ctx, msg)
			})
			if err != nil && ctx.Err() == nil && o.onFail != nil {
				o.onFail(msg, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
