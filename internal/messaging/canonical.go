package messaging

import (
	"fmt"
	"log/slog"
)

// canonicalizePhone strips every non-digit from recipient and checks the result is
// long enough to be a phone number.
func canonicalizePhone(service, recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug(service+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
