package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Both channels are closed when the stream ends; cancelling ctx stops the
// producer and releases the upstream response body.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

type Capabilities struct {
	History   bool
	Streaming bool
}

func CapabilitiesOf(p Provider) Capabilities {
	_, streaming := p.(StreamProvider)
	return Capabilities{History: true, Streaming: streaming}
}

// send delivers v unless ctx is done first.
func send(ctx context.Context, ch chan<- string, v string) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
