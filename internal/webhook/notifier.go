package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

// deliveryBudget bounds one detached delivery including every retry
// attempt and the backoff sleeps between them.
const deliveryBudget = time.Minute

// Notifier fans committed engine events out to the configured webhook
// endpoint. Deliveries run on their own goroutine with a detached
// context: a mutation must never wait on, or be failed by, a slow
// receiver, and the request context is gone by the time retries run.
type Notifier struct {
	client   *Client
	endpoint string
	log      *slog.Logger

	wg sync.WaitGroup
}

func NewNotifier(client *Client, endpoint string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		client:   client,
		endpoint: endpoint,
		log:      log,
	}
}

func (n *Notifier) ImageMutated(_ context.Context, ev domain.MutationEvent) {
	n.dispatch(domain.EventImageMutated, ev)
}

func (n *Notifier) ImageDeleted(_ context.Context, imageID string) {
	n.dispatch(domain.EventImageDeleted, deletedPayload{
		ImageID:   imageID,
		DeletedAt: time.Now().UTC(),
	})
}

// Drain blocks until in-flight deliveries finish or ctx expires. Called
// during shutdown so a kill signal right after a mutation does not drop
// its notification.
func (n *Notifier) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		n.log.Warn("webhook drain timed out with deliveries in flight")
	}
}

func (n *Notifier) dispatch(event string, payload any) {
	if n.endpoint == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryBudget)
		defer cancel()
		if err := n.client.Send(ctx, n.endpoint, event, payload); err != nil {
			n.log.Warn("webhook delivery failed", "event", event, "error", err)
		}
	}()
}

type deletedPayload struct {
	ImageID   string    `json:"image_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
