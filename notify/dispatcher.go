package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nestorgt/go-settlement/core"
)

type Message struct {
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ChannelResult struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// DeliveryResult reports how many channels accepted a message. Partial is
// set when some but not all channels delivered.
type DeliveryResult struct {
	Delivered bool            `json:"delivered"`
	Partial   bool            `json:"partial"`
	Channels  []ChannelResult `json:"channels"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, recipientID string, message Message) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, recipientID string, message Message) DeliveryResult
}

// MultiChannelDispatcher tries every registered channel in registration
// order.
type MultiChannelDispatcher struct {
	observer core.Observer

	mu       sync.RWMutex
	order    []string
	channels map[string]Channel
}

func NewMultiChannelDispatcher(observer core.Observer, channels ...Channel) (*MultiChannelDispatcher, error) {
	d := &MultiChannelDispatcher{
		observer: observer,
		channels: map[string]Channel{},
	}
	for _, channel := range channels {
		if err := d.Register(channel); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *MultiChannelDispatcher) Register(channel Channel) error {
	if d == nil {
		return fmt.Errorf("notify: dispatcher is nil")
	}
	if channel == nil {
		return notifyBadInput("notify: channel is nil", nil)
	}
	name := strings.TrimSpace(strings.ToLower(channel.Name()))
	if name == "" {
		return notifyBadInput("notify: channel name is required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.channels[name]; exists {
		return notifyBadInput(
			fmt.Sprintf("notify: channel %q already registered", name),
			map[string]any{"channel": name},
		)
	}
	d.channels[name] = channel
	d.order = append(d.order, name)
	return nil
}

func (d *MultiChannelDispatcher) Dispatch(ctx context.Context, recipientID string, message Message) DeliveryResult {
	result := DeliveryResult{Channels: []ChannelResult{}}
	if d == nil {
		return result
	}
	d.mu.RLock()
	names := append([]string(nil), d.order...)
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		channels = append(channels, d.channels[name])
	}
	d.mu.RUnlock()

	delivered := 0
	for i, channel := range channels {
		startedAt := time.Now()
		err := channel.Send(ctx, recipientID, message)
		d.observer.ObserveOperation(ctx, startedAt, "notify_send", err, map[string]any{
			"channel":      names[i],
			"recipient_id": recipientID,
		})
		entry := ChannelResult{Channel: names[i], Delivered: err == nil}
		if err != nil {
			entry.Error = err.Error()
		} else {
			delivered++
		}
		result.Channels = append(result.Channels, entry)
	}
	result.Delivered = delivered > 0
	result.Partial = delivered > 0 && delivered < len(channels)
	return result
}

var _ Dispatcher = (*MultiChannelDispatcher)(nil)
