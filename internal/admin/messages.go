package admin

import (
	"fmt"
	"time"
)

// Administrator-facing messages.
const (
	PasswordPromptMessage   = "🔒 Enter the administrator password:"
	WrongPasswordMessage    = "⚠️ Wrong password. Attempts remaining: %d"
	LockoutMessage          = "🚫 Access blocked for 24 hours"
	MenuMessage             = "✅ Authentication successful!\nAvailable commands:\n" + CommandGetReport + " - get the report\n" + CommandRunSurvey + " - start the survey\n" + CommandExitAdmin + " - leave the admin panel"
	ExitMessage             = "🔒 Administrator session ended"
	SessionExpiredMessage   = "🔒 Administrator session expired. Send /admin to log in again."
	UnknownCommandMessage   = "Unknown command. Available commands: " + CommandGetReport + ", " + CommandRunSurvey + ", " + CommandExitAdmin
	ReportPendingMessage    = "⏳ Generating the report..."
	ReportReadyMessage      = "📊 Report ready"
	ReportFailedMessage     = "⚠️ Failed to generate the report"
	BroadcastPendingMessage = "⏳ Starting the survey for all participants..."
	BroadcastDoneMessage    = "✅ Survey started for %d of %d participants"
	BroadcastFailedMessage  = "⚠️ Failed to start the survey (0 of %d participants)"
)

// blockedNotice describes an enforced block lasting d.
func blockedNotice(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("🚫 Access blocked for %d hours", int(d/time.Hour))
	case d >= time.Hour:
		return fmt.Sprintf("🚫 Access blocked for %.1f hours", d.Hours())
	default:
		minutes := int((d + time.Minute - 1) / time.Minute)
		return fmt.Sprintf("🚫 Access blocked for %d minutes", minutes)
	}
}
