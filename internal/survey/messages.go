package survey

// Consent reply literals.
const (
	ConsentAccept  = "Agree"
	ConsentDecline = "Decline"
)

// Participant-facing messages.
const (
	ConsentPromptMessage    = "📝 Please confirm your consent to the processing of your data.\n\nReply \"" + ConsentAccept + "\" or \"" + ConsentDecline + "\"."
	ConsentAcceptedMessage  = "✅ Consent accepted. Welcome! You will receive a short daily survey. What's on your mind?"
	ConsentDeclinedMessage  = "❌ Consent declined."
	SurveyIntroMessage      = "📝 Starting the daily survey!"
	InvalidAnswerMessage    = "⚠️ Please enter a valid answer."
	SurveyThanksMessage     = "📊 Thank you for completing the survey! Your answers have been saved."
	SurveySaveFailedMessage = "⚠️ Sorry, we could not save your answers."
	BusyMessage             = "⏳ The service is busy right now. Please send /start again in a few minutes."
)
