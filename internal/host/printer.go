package host

import (
	"fmt"
	"io"

	"github.com/cory-johannsen/dmtable/internal/game/session"
)

// FormatEntry renders one transcript line.
func FormatEntry(e session.Entry) string {
	if e.System || e.Speaker.IsZero() {
		return fmt.Sprintf("[round %d] * %s", e.Round+1, e.Text)
	}
	return fmt.Sprintf("[round %d] %s: %s", e.Round+1, e.Speaker, e.Text)
}

// PrintFeed writes every entry of feed to w until the feed is closed.
//
// Postcondition: Returns the first write error, or nil once the feed is closed and drained.
func PrintFeed(w io.Writer, feed *session.Feed) error {
	for e := range feed.Entries() {
		if _, err := fmt.Fprintln(w, FormatEntry(e)); err != nil {
			return err
		}
	}
	return nil
}
