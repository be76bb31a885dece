package webhook

import "context"

// Delivery is one verified, deduplicated webhook delivery.
type Delivery struct {
	Topic   string // normalized, e.g. "orders_paid"
	Shop    string
	EventID string
	Body    []byte
}

// HandlerFunc processes one delivery. A returned error is logged and
// counted; the platform still gets a 200 so it does not retry a payload
// that will fail the same way every time.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Registry maps normalized topics to handlers.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for topic. Either topic form works; "orders/paid" and
// "orders_paid" register the same key.
func (r *Registry) Handle(topic string, fn HandlerFunc) {
	r.handlers[NormalizeTopic(topic)] = fn
}

// Lookup returns the handler for topic, if any.
func (r *Registry) Lookup(topic string) (HandlerFunc, bool) {
	fn, ok := r.handlers[NormalizeTopic(topic)]
	return fn, ok
}
