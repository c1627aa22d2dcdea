// Package matcher implements the phrase matching engine for channel messages.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"whistleblower/internal/model"
	"whistleblower/internal/storage"
)

// Engine finds subscribed phrases in channel messages.
type Engine struct {
	store storage.Storage
}

// New creates an Engine reading channel records from store.
func New(store storage.Storage) *Engine {
	return &Engine{store: store}
}

// Match returns one Match per subscribed phrase of channelID that occurs in
// text. A channel without subscriptions yields no matches.
func (e *Engine) Match(ctx context.Context, channelID, text string) ([]model.Match, error) {
	ch, err := e.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	return MatchRecord(ch, text), nil
}

// MatchRecord tests every phrase of ch against text. Matching is a literal,
// case-sensitive substring test. Matches are ordered by phrase.
func MatchRecord(ch *model.ChannelRecord, text string) []model.Match {
	if text == "" {
		return nil
	}
	var matches []model.Match
	for _, phrase := range ch.SortedPhrases() {
		users := ch.Phrases[phrase]
		if phrase == "" || len(users) == 0 || !strings.Contains(text, phrase) {
			continue
		}
		matches = append(matches, model.Match{
			Phrase:        phrase,
			Recipients:    slices.Clone(users),
			ChannelLongID: ch.LongID,
		})
	}
	return matches
}
