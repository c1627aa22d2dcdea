// Package subscription applies subscribe, purge and query commands to the
// subscription index, keeping the user side and the channel side in step.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"whistleblower/internal/model"
	"whistleblower/internal/storage"
)

// QuotePrefix is the escaped block-quote marker Slack puts in front of
// quoted lines. Phrases are given as quoted lines.
const QuotePrefix = "&gt; "

var (
	// ErrInvalidCommand reports a subscribe request without a user,
	// phrases or channels.
	ErrInvalidCommand = errors.New("invalid subscribe command")
	// ErrNotFound reports that the user has no subscription.
	ErrNotFound = errors.New("no subscription")
)

// Ack is the display form of an accepted subscription.
type Ack struct {
	Phrases  []string
	Channels []string
}

// Manager mutates and queries subscriptions.
type Manager struct {
	store storage.Storage
	log   *slog.Logger
}

// New creates a Manager over store.
func New(store storage.Storage, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// Subscribe replaces the subscription of userID with phrases in channels.
//
// Channels the user appeared in before and no longer requests are stripped
// of the user first, then the user record is written, then the user is added
// under each phrase of each requested channel. The writes are not atomic: a
// failure part way leaves the index as of the last successful write.
func (m *Manager) Subscribe(ctx context.Context, userID string, phrases, channels []string) (Ack, error) {
	if userID == "" || len(phrases) == 0 || len(channels) == 0 {
		return Ack{}, ErrInvalidCommand
	}

	normPhrases := normalizePhrases(phrases)
	refs := normalizeChannels(channels)
	if len(normPhrases) == 0 || len(refs) == 0 {
		return Ack{}, ErrInvalidCommand
	}

	rec := &model.UserRecord{Phrases: normPhrases}
	for _, r := range refs {
		rec.Channels = append(rec.Channels, r.longID)
	}

	prev, err := m.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		rec.DMChannelID = prev.DMChannelID
	case errors.Is(err, storage.ErrNotFound):
		prev = nil
	default:
		return Ack{}, fmt.Errorf("load user %s: %w", userID, err)
	}

	requested := make(map[string]bool, len(refs))
	for _, r := range refs {
		requested[r.id] = true
	}
	if prev != nil {
		for _, longID := range prev.Channels {
			id := ChannelID(longID)
			if id == "" || requested[id] {
				continue
			}
			if err := m.dropFromChannel(ctx, id, userID); err != nil {
				return Ack{}, err
			}
		}
	}

	if err := m.store.PutUser(ctx, userID, rec); err != nil {
		return Ack{}, fmt.Errorf("save user %s: %w", userID, err)
	}

	for _, r := range refs {
		if err := m.addToChannel(ctx, r, userID, normPhrases); err != nil {
			return Ack{}, err
		}
	}

	m.log.Info("subscription updated",
		"user_id", userID,
		"phrases", len(normPhrases),
		"channels", len(refs),
	)

	return Ack{Phrases: QuotePhrases(normPhrases), Channels: rec.Channels}, nil
}

// addToChannel makes phrases the exact set the user holds in the channel.
func (m *Manager) addToChannel(ctx context.Context, ref channelRef, userID string, phrases []string) error {
	ch, err := m.store.GetChannel(ctx, ref.id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ch = model.NewChannelRecord(ref.longID)
	case err != nil:
		return fmt.Errorf("load channel %s: %w", ref.id, err)
	}

	ch.RemoveUser(userID)
	for _, p := range phrases {
		ch.AddUser(p, userID)
	}

	if err := m.store.PutChannel(ctx, ref.id, ch); err != nil {
		return fmt.Errorf("save channel %s: %w", ref.id, err)
	}
	return nil
}

func (m *Manager) dropFromChannel(ctx context.Context, channelID, userID string) error {
	ch, err := m.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if !ch.RemoveUser(userID) {
		return nil
	}
	if err := m.store.PutChannel(ctx, channelID, ch); err != nil {
		return fmt.Errorf("save channel %s: %w", channelID, err)
	}
	return nil
}

// Purge deletes the user's subscription and removes the user from every
// channel record. It scans all channels, so stale entries left behind by an
// interrupted subscribe are cleaned up as well.
func (m *Manager) Purge(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidCommand
	}

	if err := m.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}

	ids, err := m.store.ListChannelIDs(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	touched := 0
	for _, id := range ids {
		ch, err := m.store.GetChannel(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load channel %s: %w", id, err)
		}
		if !ch.RemoveUser(userID) {
			continue
		}
		if err := m.store.PutChannel(ctx, id, ch); err != nil {
			return fmt.Errorf("save channel %s: %w", id, err)
		}
		touched++
	}

	m.log.Info("subscription purged", "user_id", userID, "channels", touched)
	return nil
}

// GetConfig returns the user's subscription or ErrNotFound.
func (m *Manager) GetConfig(ctx context.Context, userID string) (*model.UserRecord, error) {
	rec, err := m.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return rec, nil
}

// NormalizePhrase strips the quote decoration and surrounding whitespace.
func NormalizePhrase(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case strings.HasPrefix(p, strings.TrimSpace(QuotePrefix)):
		p = strings.TrimPrefix(p, strings.TrimSpace(QuotePrefix))
	case strings.HasPrefix(p, ">"):
		p = strings.TrimPrefix(p, ">")
	}
	return strings.TrimSpace(p)
}

// QuotePhrases renders phrases as quoted lines for display.
func QuotePhrases(phrases []string) []string {
	out := make([]string, len(phrases))
	for i, p := range phrases {
		out[i] = QuotePrefix + p
	}
	return out
}

// ChannelID extracts the channel identifier from a mention token such as
// "<#C024BE91L|general>". Bare identifiers are returned unchanged.
func ChannelID(ref string) string {
	id := strings.TrimSpace(ref)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimPrefix(id, "#")
	id = strings.TrimSuffix(id, ">")
	if i := strings.IndexByte(id, '|'); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSpace(id)
}

type channelRef struct {
	id     string
	longID string
}

func normalizePhrases(phrases []string) []string {
	var out []string
	for _, p := range phrases {
		p = NormalizePhrase(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeChannels(channels []string) []channelRef {
	var out []channelRef
	seen := make(map[string]bool, len(channels))
	for _, c := range channels {
		id := ChannelID(c)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, channelRef{id: id, longID: strings.TrimSpace(c)})
	}
	return out
}
