// Package push contains the public domain model and collaborator
// interfaces for the push delivery service.
package push

import "time"

// Channel identifies one delivery mechanism.
type Channel string

const (
	ChannelFCM     Channel = "fcm"
	ChannelAPNS    Channel = "apns"
	ChannelWebPush Channel = "webpush"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelFCM, ChannelAPNS, ChannelWebPush:
		return true
	}
	return false
}

// Channels lists every known channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelFCM, ChannelAPNS, ChannelWebPush}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Action is one user-facing button attached to a notification.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

// Notification is one logical message. It is immutable once constructed;
// the channel dispatchers only read it.
type Notification struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	Sound        string            `json:"sound,omitempty"`
	Badge        int               `json:"badge,omitempty"`
	ChannelGroup string            `json:"channel_group,omitempty"`
	Actions      []Action          `json:"actions,omitempty"`
	Priority     Priority          `json:"priority,omitempty"`
	TTL          time.Duration     `json:"ttl,omitempty"`
	CollapseKey  string            `json:"collapse_key,omitempty"`
	TargetUser   string            `json:"target_user,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

// Address is one deliverable endpoint for one user: a channel plus the
// channel's opaque token. For webpush the token is the JSON-encoded
// browser subscription.
type Address struct {
	Channel Channel `json:"channel"`
	Token   string  `json:"token"`
}
