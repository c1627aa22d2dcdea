// Package model defines the domain types used across the application.
package model

import (
	"slices"
	"sort"
)

// UserRecord holds a user's phrase/channel subscription.
//
// Phrases are stored without quote markers. Channels keep the mention
// tokens the user typed so they can be echoed back verbatim.
type UserRecord struct {
	Phrases     []string `json:"phrases"`
	Channels    []string `json:"channels"`
	DMChannelID string   `json:"dm_channel_id,omitempty"`
}

// ChannelRecord is the channel side of the subscription index.
type ChannelRecord struct {
	LongID  string              `json:"long_id"`
	Phrases map[string][]string `json:"phrases"`
}

// NewChannelRecord returns an empty record for the given display reference.
func NewChannelRecord(longID string) *ChannelRecord {
	return &ChannelRecord{LongID: longID, Phrases: make(map[string][]string)}
}

// AddUser subscribes userID to phrase. It reports whether the record changed.
func (c *ChannelRecord) AddUser(phrase, userID string) bool {
	if c.Phrases == nil {
		c.Phrases = make(map[string][]string)
	}
	users := c.Phrases[phrase]
	if slices.Contains(users, userID) {
		return false
	}
	c.Phrases[phrase] = append(users, userID)
	return true
}

// RemoveUser drops userID from every phrase and deletes phrases left
// without subscribers. It reports whether the record changed.
func (c *ChannelRecord) RemoveUser(userID string) bool {
	changed := false
	for phrase, users := range c.Phrases {
		i := slices.Index(users, userID)
		if i < 0 {
			continue
		}
		changed = true
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(c.Phrases, phrase)
			continue
		}
		c.Phrases[phrase] = users
	}
	return changed
}

// SortedPhrases returns the phrase keys in lexical order.
func (c *ChannelRecord) SortedPhrases() []string {
	phrases := make([]string, 0, len(c.Phrases))
	for p := range c.Phrases {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)
	return phrases
}

// Match is produced for every subscribed phrase found in a channel message.
type Match struct {
	Phrase        string
	Recipients    []string
	ChannelLongID string
}

// Event types and channel types the router understands.
const (
	EventAppMention = "app_mention"
	EventMessage    = "message"

	ChannelTypeIM      = "im"
	ChannelTypeChannel = "channel"

	SubtypeBotMessage = "bot_message"
)

// Event is an inbound chat event, already parsed and validated at the
// transport boundary. Optional fields are empty when absent.
type Event struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	Channel     string `json:"channel"`
	User        string `json:"user,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Text        string `json:"text"`
}

// FromBot reports whether the event was posted by a bot integration.
func (e Event) FromBot() bool {
	return e.Subtype == SubtypeBotMessage || e.BotID != ""
}
