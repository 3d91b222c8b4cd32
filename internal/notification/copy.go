package notification

import reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"

type levelCopy struct {
	subject  string
	headline string
	intro    string
}

// invoiceCopy holds the subject and wording of each notice. NONE has no
// notice.
var invoiceCopy = map[reminderdomain.Level]levelCopy{
	reminderdomain.LevelFriendly: {
		subject:  "Friendly reminder: invoice %s",
		headline: "Friendly payment reminder",
		intro:    "Perhaps it slipped through: we have not yet received payment for the invoice below.",
	},
	reminderdomain.LevelMahnung1: {
		subject:  "First reminder: invoice %s is overdue",
		headline: "First payment reminder",
		intro:    "The invoice below is overdue. Please settle the amount including the reminder fee.",
	},
	reminderdomain.LevelMahnung2: {
		subject:  "Second reminder: invoice %s is overdue",
		headline: "Second payment reminder",
		intro:    "Despite our earlier reminder the invoice below remains unpaid.",
	},
	reminderdomain.LevelMahnung3: {
		subject:  "Final reminder: invoice %s",
		headline: "Final payment reminder",
		intro:    "This is our final reminder. If payment is not received the claim will be handed over to collections.",
	},
	reminderdomain.LevelCollections: {
		subject:  "Collections notice: invoice %s",
		headline: "Notice of transfer to collections",
		intro:    "The invoice below has been transferred to collections. Statutory delay interest has been added.",
	},
}

const offerSubject = "Your offer %s expires soon"
