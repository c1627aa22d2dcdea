// Package bot routes inbound Slack events to subscription commands or to
// phrase matching.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"whistleblower/internal/config"
	"whistleblower/internal/matcher"
	"whistleblower/internal/model"
	"whistleblower/internal/notify"
	"whistleblower/internal/subscription"
)

type slackAPI interface {
	ConversationMembers(ctx context.Context, channelID string) ([]string, error)
	PostMessage(ctx context.Context, channelID, text string) error
}

// Bot is the Slack bot that handles user commands and channel chatter.
type Bot struct {
	api      slackAPI
	identity *Identity
	subs     *subscription.Manager
	matcher  *matcher.Engine
	notifier *notify.Dispatcher
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a Bot.
func New(
	api slackAPI,
	identity *Identity,
	subs *subscription.Manager,
	engine *matcher.Engine,
	notifier *notify.Dispatcher,
	cfg *config.Config,
	log *slog.Logger,
) *Bot {
	return &Bot{
		api:      api,
		identity: identity,
		subs:     subs,
		matcher:  engine,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// HandleEvent processes one inbound event. Events that are neither addressed
// to the bot nor plain channel chat are ignored. The returned error is a
// storage failure; upstream failures are logged and swallowed.
func (b *Bot) HandleEvent(ctx context.Context, ev model.Event) error {
	if ev.FromBot() {
		return nil
	}

	botID, err := b.identity.UserID(ctx)
	if err != nil {
		b.log.Error("resolve bot identity", "error", err)
		return nil
	}
	if ev.User == botID {
		return nil
	}

	forApp, err := b.addressedToBot(ctx, ev, botID)
	if err != nil {
		b.log.Error("check conversation members", "channel_id", ev.Channel, "error", err)
		return nil
	}

	switch {
	case forApp:
		if !b.cfg.IsUserAllowed(ev.User) {
			b.reply(ctx, ev.Channel, "Access denied.")
			return nil
		}
		return b.handleCommand(ctx, ev)
	case isChat(ev, botID):
		return b.handleChat(ctx, ev)
	}
	return nil
}

func (b *Bot) addressedToBot(ctx context.Context, ev model.Event, botID string) (bool, error) {
	switch {
	case ev.Type == model.EventAppMention:
		return true, nil
	case ev.Type == model.EventMessage && ev.ChannelType == model.ChannelTypeIM:
		members, err := b.api.ConversationMembers(ctx, ev.Channel)
		if err != nil {
			return false, err
		}
		return slices.Contains(members, botID), nil
	}
	return false, nil
}

// isChat reports whether ev is channel chatter. Messages mentioning the bot
// arrive again as app_mention events and are skipped here.
func isChat(ev model.Event, botID string) bool {
	return ev.Type == model.EventMessage &&
		ev.ChannelType == model.ChannelTypeChannel &&
		!strings.Contains(ev.Text, botID)
}

func (b *Bot) handleCommand(ctx context.Context, ev model.Event) error {
	cmd := ParseCommand(ev.Text)

	b.log.Debug("command", "kind", cmd.Kind, "user_id", ev.User, "channel_id", ev.Channel)

	switch cmd.Kind {
	case CommandSubscribe:
		return b.handleSubscribe(ctx, ev, cmd)
	case CommandPurge:
		return b.handlePurge(ctx, ev)
	case CommandGetConfig:
		return b.handleGetConfig(ctx, ev)
	default:
		b.reply(ctx, ev.Channel, helpMessage)
		return nil
	}
}

func (b *Bot) handleChat(ctx context.Context, ev model.Event) error {
	matches, err := b.matcher.Match(ctx, ev.Channel, ev.Text)
	if err != nil {
		return fmt.Errorf("match channel %s: %w", ev.Channel, err)
	}

	var errs []error
	for _, m := range matches {
		if _, err := b.notifier.Notify(ctx, m.Recipients, m.ChannelLongID, m.Phrase); err != nil {
			errs = append(errs, fmt.Errorf("notify %q: %w", m.Phrase, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) reply(ctx context.Context, channelID, text string) {
	if err := b.api.PostMessage(ctx, channelID, text); err != nil {
		b.log.Error("send message", "channel_id", channelID, "error", err)
	}
}
