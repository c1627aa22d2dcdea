package bot

import (
	"context"
	"errors"
	"fmt"

	"whistleblower/internal/model"
	"whistleblower/internal/subscription"
)

func (b *Bot) handleSubscribe(ctx context.Context, ev model.Event, cmd Command) error {
	ack, err := b.subs.Subscribe(ctx, ev.User, cmd.Phrases, cmd.Channels)
	if errors.Is(err, subscription.ErrInvalidCommand) {
		b.reply(ctx, ev.Channel, helpMessage)
		return nil
	}
	if err != nil {
		b.reply(ctx, ev.Channel, "Sorry, I could not save your configuration.")
		return fmt.Errorf("subscribe %s: %w", ev.User, err)
	}

	b.reply(ctx, ev.Channel, msgUpdated+"\n"+FormatConfig(ack.Phrases, ack.Channels))
	return nil
}

func (b *Bot) handlePurge(ctx context.Context, ev model.Event) error {
	err := b.subs.Purge(ctx, ev.User)
	if errors.Is(err, subscription.ErrInvalidCommand) {
		b.log.Warn("purge without user", "channel_id", ev.Channel)
		return nil
	}
	if err != nil {
		b.reply(ctx, ev.Channel, "Sorry, I could not purge your configuration.")
		return fmt.Errorf("purge %s: %w", ev.User, err)
	}

	b.reply(ctx, ev.Channel, msgPurged)
	return nil
}

func (b *Bot) handleGetConfig(ctx context.Context, ev model.Event) error {
	if ev.User == "" {
		b.log.Warn("config query without user", "channel_id", ev.Channel)
		return nil
	}

	rec, err := b.subs.GetConfig(ctx, ev.User)
	if errors.Is(err, subscription.ErrNotFound) {
		b.reply(ctx, ev.Channel, msgNoConfig)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get config %s: %w", ev.User, err)
	}

	b.reply(ctx, ev.Channel, FormatConfig(subscription.QuotePhrases(rec.Phrases), rec.Channels))
	return nil
}
