package domain

import "context"

// Provider sends one notification through a delivery medium. Concrete
// SMTP/messaging adapters live outside the core; the pipeline only consumes
// this capability.
type Provider interface {
	Send(ctx context.Context, msg *ChannelMessage) error
}

// ChannelEntry binds a channel tag to its provider and bus topic. The set of
// channels is open; entries are registered at startup from configuration.
type ChannelEntry struct {
	Channel  string
	Topic    string
	Provider Provider
}

// ChannelRegistry indexes channel entries by tag. It replaces hardcoded
// channel enums so new channels need registration only.
type ChannelRegistry struct {
	entries map[string]ChannelEntry
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{entries: make(map[string]ChannelEntry)}
}

func (r *ChannelRegistry) Register(channel string, provider Provider) {
	r.entries[channel] = ChannelEntry{
		Channel:  channel,
		Topic:    ChannelTopic(channel),
		Provider: provider,
	}
}

func (r *ChannelRegistry) Get(channel string) (ChannelEntry, bool) {
	e, ok := r.entries[channel]
	return e, ok
}

func (r *ChannelRegistry) Channels() []string {
	out := make([]string, 0, len(r.entries))
	for c := range r.entries {
		out = append(out, c)
	}
	return out
}
