// Package firestore persists device registrations, templates and
// delivery logs in Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pushline/go-push-delivery/pkg/push"
)

const (
	usersCollection      = "users"
	devicesCollection    = "devices"
	deliveriesCollection = "deliveries"
	templatesCollection  = "templates"
	countersDoc          = "counters/totals"

	// Firestore caps "in" filters.
	tokenQueryChunk = 30

	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 500
)

// Store implements push.DeviceRegistry and push.DeliveryStore.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// deviceRecord is the internal DB representation of one address.
type deviceRecord struct {
	Channel   string    `firestore:"channel"`
	Token     string    `firestore:"token"`
	User      string    `firestore:"user"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// --- DeviceRegistry ---

func (s *Store) Register(ctx context.Context, userID string, addr push.Address) error {
	record := deviceRecord{
		Channel:   string(addr.Channel),
		Token:     addr.Token,
		User:      userID,
		UpdatedAt: time.Now().UTC(),
	}
	// Hash of the token as doc id: registering the same endpoint twice
	// upserts instead of duplicating.
	_, err := s.deviceRef(userID, hashToken(addr.Token)).Set(ctx, record)
	return err
}

func (s *Store) Unregister(ctx context.Context, userID string, addr push.Address) error {
	_, err := s.deviceRef(userID, hashToken(addr.Token)).Delete(ctx)
	return err
}

func (s *Store) AddressesForUser(ctx context.Context, userID string) ([]push.Address, error) {
	if userID == "" {
		return nil, nil
	}

	iter := s.devicesOf(userID).Documents(ctx)
	defer iter.Stop()

	addrs := make([]push.Address, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped rather than sinking the whole lookup.
			continue
		}
		addrs = append(addrs, push.Address{Channel: push.Channel(record.Channel), Token: record.Token})
	}
	return addrs, nil
}

func (s *Store) AddressesForTokens(ctx context.Context, tokens []string) ([]push.Address, error) {
	addrs := make([]push.Address, 0, len(tokens))
	for start := 0; start < len(tokens); start += tokenQueryChunk {
		end := min(start+tokenQueryChunk, len(tokens))

		iter := s.client.CollectionGroup(devicesCollection).
			Where("token", "in", tokens[start:end]).
			Documents(ctx)

		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("firestore token lookup failed: %w", err)
			}
			var record deviceRecord
			if err := doc.DataTo(&record); err != nil {
				continue
			}
			addrs = append(addrs, push.Address{Channel: push.Channel(record.Channel), Token: record.Token})
		}
		iter.Stop()
	}
	return addrs, nil
}

// --- DeliveryStore ---

func (s *Store) LogDelivery(ctx context.Context, rec push.DeliveryRecord) error {
	if _, err := s.client.Collection(deliveriesCollection).Doc(rec.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to write delivery record: %w", err)
	}

	// Running totals live in a single counter doc so stats survive restarts.
	_, err := s.client.Doc(countersDoc).Set(ctx, map[string]any{
		"total_sent":   firestore.Increment(rec.Sent),
		"total_failed": firestore.Increment(rec.Failed),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to bump delivery counters: %w", err)
	}
	return nil
}

func (s *Store) Delivery(ctx context.Context, id string) (*push.DeliveryRecord, error) {
	doc, err := s.client.Collection(deliveriesCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, push.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read delivery record: %w", err)
	}

	var rec push.DeliveryRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("corrupt delivery record %q: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) History(ctx context.Context, filter push.HistoryFilter) ([]push.DeliveryRecord, error) {
	q := s.client.Collection(deliveriesCollection).Query
	if filter.TargetUser != "" {
		q = q.Where("target_user", "==", filter.TargetUser)
	}
	if filter.From != nil {
		q = q.Where("sent_at", ">=", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("sent_at", "<=", *filter.To)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryPageSize
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}
	page := max(filter.Page, 1)

	iter := q.OrderBy("sent_at", firestore.Desc).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Documents(ctx)
	defer iter.Stop()

	records := make([]push.DeliveryRecord, 0, pageSize)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore history query failed: %w", err)
		}
		var rec push.DeliveryRecord
		if err := doc.DataTo(&rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) AggregateTotals(ctx context.Context) (push.Stats, error) {
	doc, err := s.client.Doc(countersDoc).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return push.Stats{Channels: map[push.Channel]push.ChannelStats{}}, nil
		}
		return push.Stats{}, fmt.Errorf("failed to read delivery counters: %w", err)
	}

	var counters struct {
		TotalSent   int64 `firestore:"total_sent"`
		TotalFailed int64 `firestore:"total_failed"`
	}
	if err := doc.DataTo(&counters); err != nil {
		return push.Stats{}, fmt.Errorf("corrupt counter doc: %w", err)
	}
	return push.Stats{
		TotalSent:   counters.TotalSent,
		TotalFailed: counters.TotalFailed,
		Channels:    map[push.Channel]push.ChannelStats{},
	}, nil
}

func (s *Store) Template(ctx context.Context, id string) (*push.Template, error) {
	doc, err := s.client.Collection(templatesCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, push.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	var tpl push.Template
	if err := doc.DataTo(&tpl); err != nil {
		return nil, fmt.Errorf("corrupt template %q: %w", id, err)
	}
	tpl.ID = id
	return &tpl, nil
}

// --- Helpers ---

func (s *Store) deviceRef(userID, docID string) *firestore.DocumentRef {
	return s.devicesOf(userID).Doc(docID)
}

func (s *Store) devicesOf(userID string) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(userID).Collection(devicesCollection)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
