package telegram

import (
	"strings"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/reminder"
)

// Callback data format: ACTION:logID. The log id may itself contain
// underscores but never a colon, so SplitN is safe.

// EncodeCallback builds the callback data for an inline button.
func EncodeCallback(kind reminder.ActionKind, logID string) string {
	return strings.ToUpper(string(kind)) + ":" + logID
}

// DecodeCallback parses callback data back into an action and log id.
func DecodeCallback(data string) (reminder.ActionKind, string, error) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", apperrors.New("CHAN_002", "malformed callback data: "+data)
	}

	switch parts[0] {
	case "TAKE":
		return reminder.ActionTake, parts[1], nil
	case "SKIP":
		return reminder.ActionSkip, parts[1], nil
	case "SNOOZE":
		return reminder.ActionSnooze, parts[1], nil
	default:
		return "", "", apperrors.New("CHAN_002", "unknown callback action: "+parts[0])
	}
}
