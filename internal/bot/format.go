package bot

import (
	"fmt"
	"strings"
)

const helpMessage = `Give me phrases and channels and I will notify you in DM when a phrase appears in a channel.

*Make sure* I am added to every channel in the list, otherwise I cannot see the messages.

To set up your subscription send me a message like:

_*@whistleblower* listen for phrases:_
> _foo bar_
> _foozah_
> _who's here?!_
_in channels: *#channel_1 #channel_2*_

Each line of the quote block is one phrase to listen for. Sending a new subscription replaces the old one.

To unsubscribe: _*@whistleblower* purge config_
To show your subscription: _*@whistleblower* get config_`

const (
	msgUpdated  = "Updated your configuration!"
	msgPurged   = "I have purged your configuration!"
	msgNoConfig = "You don't have any configuration!"
)

// FormatConfig renders a subscription for display. Phrases are expected in
// quoted form.
func FormatConfig(phrases, channels []string) string {
	var b strings.Builder
	b.WriteString("You are listening for phrases\n")
	b.WriteString(strings.Join(phrases, "\n"))
	fmt.Fprintf(&b, "\nin channels [%s]", strings.Join(channels, " "))
	return b.String()
}
