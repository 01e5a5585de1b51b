package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/resound/internal/audio"
	"github.com/rbright/resound/internal/upload"
)

const (
	MessageRecording   = "Recording..."
	MessageProcessing  = "Processing..."
	MessageHTTPError   = "Something went wrong. Please try again."
	MessageTimeout     = "The request timed out. Please try again."
	MessageNoMatch     = "Sorry! No match found."
	MessageDenied      = "Microphone access was denied."
	MessageUnavailable = "Audio capture is not supported on this system."
)

// FormatMatch renders the result line for a successful identification.
func FormatMatch(match upload.MatchRecord) string {
	if strings.TrimSpace(match.Year) == "" {
		return fmt.Sprintf("Best Match: %s - %s", match.Artist, match.Title)
	}
	return fmt.Sprintf("Best Match: %s - %s (%s)", match.Artist, match.Title, match.Year)
}

// outcomeMessage maps a non-success outcome to its user-facing text.
func outcomeMessage(outcome upload.Outcome) string {
	switch outcome.Kind {
	case upload.KindSuccess:
		return FormatMatch(outcome.Match)
	case upload.KindTimeout:
		return MessageTimeout
	case upload.KindParseError:
		return MessageNoMatch
	default:
		return MessageHTTPError
	}
}

// denialMessage maps a refused capability to its persistent notice.
func denialMessage(reason error) string {
	if errors.Is(reason, audio.ErrCapabilityUnavailable) {
		return MessageUnavailable
	}
	return MessageDenied
}
