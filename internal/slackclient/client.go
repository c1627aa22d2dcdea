// Package slackclient wraps the Slack Web API calls the bot depends on.
//
// Every call returns nil on success or an *UpstreamError describing the
// failed method. Idempotent lookups are retried when Slack rate limits the
// request; posting a message is never retried.
package slackclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/slack-go/slack"
)

// ErrUpstreamUnavailable matches every error returned by Client.
var ErrUpstreamUnavailable = errors.New("slack api unavailable")

// UpstreamError is a failed Slack API call.
type UpstreamError struct {
	Method string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("slack %s: %v", e.Method, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUpstreamUnavailable) hold for every UpstreamError.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Client is a Slack Web API client for a bot token.
type Client struct {
	api      *slack.Client
	log      *slog.Logger
	attempts uint
	delay    time.Duration
}

// New creates a Client. Extra slack options are passed to the underlying
// slack-go client (tests use slack.OptionAPIURL).
func New(token string, log *slog.Logger, opts ...slack.Option) *Client {
	return &Client{
		api:      slack.New(token, opts...),
		log:      log,
		attempts: 3,
		delay:    time.Second,
	}
}

// SetRetry overrides the rate limit retry policy.
func (c *Client) SetRetry(attempts uint, delay time.Duration) {
	c.attempts = attempts
	c.delay = delay
}

// IdentityLookup returns the user ID of the bot account owning the token.
func (c *Client) IdentityLookup(ctx context.Context) (string, error) {
	var userID string
	err := c.withRetry(ctx, "auth.test", func() error {
		resp, err := c.api.AuthTestContext(ctx)
		if err != nil {
			return err
		}
		userID = resp.UserID
		return nil
	})
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", &UpstreamError{Method: "auth.test", Err: errors.New("empty user id")}
	}
	return userID, nil
}

// ConversationMembers returns the member IDs of a conversation, following
// pagination cursors.
func (c *Client) ConversationMembers(ctx context.Context, channelID string) ([]string, error) {
	var members []string
	cursor := ""
	for {
		var page []string
		var next string
		err := c.withRetry(ctx, "conversations.members", func() error {
			var err error
			page, next, err = c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
				ChannelID: channelID,
				Cursor:    cursor,
				Limit:     200,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		members = append(members, page...)
		if next == "" {
			return members, nil
		}
		cursor = next
	}
}

// OpenDirectConversation opens, or fetches the existing, direct message
// channel with userID and returns its ID.
func (c *Client) OpenDirectConversation(ctx context.Context, userID string) (string, error) {
	var channelID string
	err := c.withRetry(ctx, "conversations.open", func() error {
		ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		if err != nil {
			return err
		}
		channelID = ch.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	if channelID == "" {
		return "", &UpstreamError{Method: "conversations.open", Err: errors.New("empty channel id")}
	}
	return channelID, nil
}

// PostMessage sends text to channelID.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return &UpstreamError{Method: "chat.postMessage", Err: err}
	}
	return nil
}

func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	var last error
	err := retry.Do(
		func() error {
			last = fn()
			return last
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("slack rate limited, retrying", "method", method, "attempt", n, "error", err)
		}),
		retry.RetryIf(isRateLimited),
	)
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return &UpstreamError{Method: method, Err: last}
}

func isRateLimited(err error) bool {
	var rl *slack.RateLimitedError
	return errors.As(err, &rl)
}
