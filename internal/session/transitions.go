package session

import "github.com/BTreeMap/SurveyPipe/internal/models"

// transitions lists, for every mode, the modes a session may move to.
// Resetting to ModeIdle is always allowed and handled by Clear.
var transitions = map[models.Mode][]models.Mode{
	models.ModeIdle: {
		models.ModeIdle,
		models.ModeAdminAuthRequested,
		models.ModeConsentPending,
		models.ModeSurveyInProgress,
	},
	models.ModeAdminAuthRequested: {
		models.ModeIdle,
		models.ModeAdminAuthRequested,
		models.ModeAdminAuthenticated,
		models.ModeSurveyInProgress,
	},
	models.ModeAdminAuthenticated: {
		models.ModeIdle,
	},
	models.ModeConsentPending: {
		models.ModeIdle,
		models.ModeAdminAuthRequested,
		models.ModeConsentPending,
		models.ModeSurveyInProgress,
	},
	models.ModeSurveyInProgress: {
		models.ModeIdle,
		models.ModeAdminAuthRequested,
		models.ModeSurveyInProgress,
	},
}

// CanTransition reports whether a session in mode from may move to mode to.
func CanTransition(from, to models.Mode) bool {
	for _, m := range transitions[from] {
		if m == to {
			return true
		}
	}
	return false
}
