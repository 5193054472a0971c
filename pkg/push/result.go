package push

import "time"

// Outcome is the per-address delivery verdict. Failures are data, not
// errors: a failed address never aborts the addresses around it.
type Outcome struct {
	Address   Address `json:"address"`
	MessageID string  `json:"message_id,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Delivered reports whether the provider accepted this address.
func (o Outcome) Delivered() bool {
	return o.Error == ""
}

// Delivered builds a success outcome carrying the provider message id.
func Delivered(addr Address, messageID string) Outcome {
	return Outcome{Address: addr, MessageID: messageID}
}

// Failed builds a failure outcome with a human-readable description.
func Failed(addr Address, description string) Outcome {
	return Outcome{Address: addr, Error: description}
}

// Result aggregates every outcome of one logical send.
// TotalSent+TotalFailed always equals the number of addresses attempted.
type Result struct {
	Successes   []Outcome `json:"successes"`
	Failures    []Outcome `json:"failures"`
	TotalSent   int       `json:"total_sent"`
	TotalFailed int       `json:"total_failed"`
}

// Absorb routes outcomes into the success or failure list and keeps the
// totals in step. Merge order is irrelevant; outcomes are keyed by address.
func (r *Result) Absorb(outcomes ...Outcome) {
	for _, o := range outcomes {
		if o.Delivered() {
			r.Successes = append(r.Successes, o)
			r.TotalSent++
		} else {
			r.Failures = append(r.Failures, o)
			r.TotalFailed++
		}
	}
}

// Attempted returns the number of addresses this result accounts for.
func (r *Result) Attempted() int {
	return r.TotalSent + r.TotalFailed
}

// ChannelCounts breaks the result down per channel.
func (r *Result) ChannelCounts() map[Channel]ChannelStats {
	counts := make(map[Channel]ChannelStats)
	for _, o := range r.Successes {
		cs := counts[o.Address.Channel]
		cs.Sent++
		counts[o.Address.Channel] = cs
	}
	for _, o := range r.Failures {
		cs := counts[o.Address.Channel]
		cs.Failed++
		counts[o.Address.Channel] = cs
	}
	return counts
}

// ChannelStats is one channel's slice of the cumulative counters.
type ChannelStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Stats is a point-in-time copy of the cumulative delivery counters.
// Counters only grow; they reset on process restart.
type Stats struct {
	TotalSent   int64                    `json:"total_sent"`
	TotalFailed int64                    `json:"total_failed"`
	Channels    map[Channel]ChannelStats `json:"channels"`
}

// DeliveryRecord is the persisted trace of one send call.
type DeliveryRecord struct {
	ID         string            `json:"id" firestore:"id"`
	Title      string            `json:"title" firestore:"title"`
	Body       string            `json:"body" firestore:"body"`
	TargetUser string            `json:"target_user,omitempty" firestore:"target_user,omitempty"`
	Sent       int               `json:"sent" firestore:"sent"`
	Failed     int               `json:"failed" firestore:"failed"`
	SentAt     time.Time         `json:"sent_at" firestore:"sent_at"`
	Data       map[string]string `json:"data,omitempty" firestore:"data,omitempty"`
}

// HistoryFilter narrows and pages a delivery-history query.
type HistoryFilter struct {
	TargetUser string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}
