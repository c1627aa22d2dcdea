// Package notify delivers phrase notifications to subscribers' direct
// message channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"whistleblower/internal/storage"
)

// ErrUnresolvable reports that no direct message channel could be found for
// a user.
var ErrUnresolvable = errors.New("delivery channel unresolvable")

// Messenger opens direct conversations and posts messages.
type Messenger interface {
	OpenDirectConversation(ctx context.Context, userID string) (string, error)
	PostMessage(ctx context.Context, channelID, text string) error
}

// Dispatcher fans notifications out to subscribers.
type Dispatcher struct {
	store     storage.Storage
	messenger Messenger
	log       *slog.Logger
	limit     int
}

// New creates a Dispatcher delivering at most concurrency messages at once.
func New(store storage.Storage, messenger Messenger, concurrency int, log *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		store:     store,
		messenger: messenger,
		log:       log,
		limit:     concurrency,
	}
}

// FormatNotification renders the message sent when phrase appears in a channel.
func FormatNotification(phrase, channelLongID string) string {
	return fmt.Sprintf("Phrase:\n\n&gt; %s\n\nhas appeared in %s", phrase, channelLongID)
}

// Notify tells every user in userIDs that phrase appeared in channelLongID.
// Delivery is best effort: unresolvable users and failed posts are logged
// per recipient and never stop delivery to the others. It returns the number
// of delivered messages and the first storage error, if any.
func (d *Dispatcher) Notify(ctx context.Context, userIDs []string, channelLongID, phrase string) (int, error) {
	text := FormatNotification(phrase, channelLongID)

	results := make([]bool, len(userIDs))
	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, userID := range userIDs {
		g.Go(func() error {
			ok, err := d.deliver(ctx, userID, text)
			results[i] = ok
			return err
		})
	}
	err := g.Wait()

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	d.log.Info("notifications sent",
		"phrase", phrase,
		"channel", channelLongID,
		"recipients", len(userIDs),
		"sent", sent,
	)
	return sent, err
}

func (d *Dispatcher) deliver(ctx context.Context, userID, text string) (bool, error) {
	channelID, err := d.ResolveDeliveryChannel(ctx, userID)
	if errors.Is(err, ErrUnresolvable) {
		d.log.Error("resolve delivery channel", "user_id", userID, "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := d.messenger.PostMessage(ctx, channelID, text); err != nil {
		d.log.Error("send notification", "user_id", userID, "channel_id", channelID, "error", err)
		return false, nil
	}
	return true, nil
}

// ResolveDeliveryChannel returns the cached direct message channel of
// userID, opening and caching one on first use.
func (d *Dispatcher) ResolveDeliveryChannel(ctx context.Context, userID string) (string, error) {
	rec, err := d.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: user %s has no subscription", ErrUnresolvable, userID)
	}
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}
	if rec.DMChannelID != "" {
		return rec.DMChannelID, nil
	}

	channelID, err := d.messenger.OpenDirectConversation(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnresolvable, err)
	}

	// The channel is usable for this delivery even if caching fails.
	switch err := d.store.SetDMChannel(ctx, userID, channelID); {
	case errors.Is(err, storage.ErrNotFound):
		d.log.Debug("user purged while resolving delivery channel", "user_id", userID)
	case err != nil:
		d.log.Warn("cache delivery channel", "user_id", userID, "error", err)
	}
	return channelID, nil
}
