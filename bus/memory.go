package bus

import (
	"context"
	"sync"

	"github.com/n0needt0/go-goodies/log"
)

// Published is a message captured by MemoryBus
type Published struct {
	Channel string
	Message Message
}

// MemoryBus is an in-process Publisher and TwinStore. It backs the "memory"
// bus driver used for local runs and the package tests.
type MemoryBus struct {
	mu        sync.Mutex
	published []Published
	publishFn func(channel string, msg Message) error
	verbose   bool

	desired   []byte
	reported  map[string]interface{}
	reportErr error
	watchers  []chan []byte
}

const watchBuffer = 16

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		reported: map[string]interface{}{},
	}
}

// WithLogging makes the bus log every published payload
func (b *MemoryBus) WithLogging() *MemoryBus {
	b.verbose = true
	return b
}

// FailPublish makes Publish return the result of fn; nil restores success
func (b *MemoryBus) FailPublish(fn func(channel string, msg Message) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishFn = fn
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, msg Message) error {
	b.mu.Lock()
	fn := b.publishFn
	b.mu.Unlock()

	if fn != nil {
		if err := fn(channel, msg); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.published = append(b.published, Published{Channel: channel, Message: msg})
	b.mu.Unlock()

	if b.verbose {
		log.Infof("[%s] %s", channel, string(msg.Data))
	}
	return nil
}

// Messages returns the messages published on channel so far
func (b *MemoryBus) Messages(channel string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, p := range b.published {
		if p.Channel == channel {
			out = append(out, p.Message)
		}
	}
	return out
}

// SetDesired stores doc and notifies registered watchers. It never blocks:
// a watcher whose buffer is full loses its oldest pending document.
func (b *MemoryBus) SetDesired(doc []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.desired = doc
	for _, w := range b.watchers {
		select {
		case w <- doc:
		default:
			log.Warnf("desired watcher is behind, dropping its oldest document")
			select {
			case <-w:
			default:
			}
			w <- doc
		}
	}
}

func (b *MemoryBus) Desired(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desired, nil
}

func (b *MemoryBus) WatchDesired(ctx context.Context) (<-chan []byte, error) {
	ch := make(chan []byte, watchBuffer)

	b.mu.Lock()
	b.watchers = append(b.watchers, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()

		// removed and closed under the lock SetDesired sends with
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, w := range b.watchers {
			if w == ch {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Watchers returns the number of registered desired watchers
func (b *MemoryBus) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// FailReport makes Report return err; nil restores success
func (b *MemoryBus) FailReport(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reportErr = err
}

func (b *MemoryBus) Report(_ context.Context, reported map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reportErr != nil {
		return b.reportErr
	}
	for k, v := range reported {
		b.reported[k] = v
	}
	return nil
}

// Reported returns a copy of the merged reported document
func (b *MemoryBus) Reported() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]interface{}, len(b.reported))
	for k, v := range b.reported {
		out[k] = v
	}
	return out
}
