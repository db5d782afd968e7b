package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

const defaultVisibilityTimeout = 30 * time.Second

type queueService struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

type queueState struct {
	sequence int64
	messages []*queuedMessage
}

// queuedMessage tracks delivery state. A message is eligible for delivery
// when it is not acked and its visibleAt is not in the future; failing to
// ack before the visibility window elapses makes it redeliverable, which is
// what gives the queue its at-least-once guarantee.
type queuedMessage struct {
	messageID     string
	body          []byte
	attributes    map[string]string
	sequence      int64
	attempts      int
	visibleAt     time.Time
	receiptHandle string
}

func newQueueService() *queueService {
	return &queueService{queues: make(map[string]*queueState)}
}

func (q *queueService) queue(name string) *queueState {
	state, ok := q.queues[name]
	if !ok {
		state = &queueState{}
		q.queues[name] = state
	}
	return state
}

func (q *queueService) Enqueue(ctx *provider.Context, req provider.EnqueueRequest) (provider.EnqueueResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.EnqueueResult{}, err
	}
	now := ctx.Clock().Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.queue(req.Queue)
	state.sequence++

	body := make([]byte, len(req.Body))
	copy(body, req.Body)
	msg := &queuedMessage{
		messageID:  uuid.NewString(),
		body:       body,
		attributes: req.Attributes,
		sequence:   state.sequence,
		visibleAt:  now.Add(req.Delay),
	}
	state.messages = append(state.messages, msg)
	return provider.EnqueueResult{MessageID: msg.messageID, Sequence: msg.sequence}, nil
}

func (q *queueService) Dequeue(ctx *provider.Context, req provider.DequeueRequest) ([]provider.Message, error) {
	if err := ctx.CheckExpired(); err != nil {
		return nil, err
	}
	now := ctx.Clock().Now()
	max := req.MaxMessages
	if max <= 0 {
		max = 1
	}
	visibility := req.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.queue(req.Queue)

	eligible := make([]*queuedMessage, 0, max)
	for _, msg := range state.messages {
		if !msg.visibleAt.After(now) {
			eligible = append(eligible, msg)
			if len(eligible) == max {
				break
			}
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].sequence < eligible[j].sequence })

	delivered := make([]provider.Message, 0, len(eligible))
	for _, msg := range eligible {
		msg.attempts++
		msg.visibleAt = now.Add(visibility)
		msg.receiptHandle = uuid.NewString()
		delivered = append(delivered, provider.Message{
			MessageID:     msg.messageID,
			Body:          msg.body,
			ReceiptHandle: msg.receiptHandle,
			Sequence:      msg.sequence,
			Attempts:      msg.attempts,
			Attributes:    msg.attributes,
		})
	}
	return delivered, nil
}

// findByReceipt returns the message holding the receipt from its most
// recent delivery. A stale handle from an earlier delivery does not match.
func (s *queueState) findByReceipt(handle string) (int, *queuedMessage) {
	for i, msg := range s.messages {
		if msg.receiptHandle != "" && msg.receiptHandle == handle {
			return i, msg
		}
	}
	return -1, nil
}

func (q *queueService) Ack(ctx *provider.Context, req provider.AckRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.queue(req.Queue)
	i, msg := state.findByReceipt(req.ReceiptHandle)
	if msg == nil {
		return provider.NewError(provider.CodeNotFound, "memory", "queue.ack",
			fmt.Sprintf("no in-flight delivery for receipt %q", req.ReceiptHandle), nil)
	}
	state.messages = append(state.messages[:i], state.messages[i+1:]...)
	return nil
}

func (q *queueService) Nack(ctx *provider.Context, req provider.NackRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	now := ctx.Clock().Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.queue(req.Queue)
	_, msg := state.findByReceipt(req.ReceiptHandle)
	if msg == nil {
		return provider.NewError(provider.CodeNotFound, "memory", "queue.nack",
			fmt.Sprintf("no in-flight delivery for receipt %q", req.ReceiptHandle), nil)
	}
	msg.visibleAt = now
	msg.receiptHandle = ""
	return nil
}

func (q *queueService) ChangeVisibility(ctx *provider.Context, req provider.ChangeVisibilityRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	now := ctx.Clock().Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.queue(req.Queue)
	_, msg := state.findByReceipt(req.ReceiptHandle)
	if msg == nil {
		return provider.NewError(provider.CodeNotFound, "memory", "queue.changeVisibility",
			fmt.Sprintf("no in-flight delivery for receipt %q", req.ReceiptHandle), nil)
	}
	msg.visibleAt = now.Add(req.VisibilityTimeout)
	if req.VisibilityTimeout <= 0 {
		msg.receiptHandle = ""
	}
	return nil
}
