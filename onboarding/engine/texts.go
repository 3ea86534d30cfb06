package engine

// Texts holds every user-facing string the engine sends.
type Texts struct {
	Welcome         string
	Help            string
	StartHint       string
	InProgress      string
	Cancelled       string
	NothingToCancel string
	SinkFailed      string
	Expired         string
	Dropped         string
	Done            string
	SummaryTitle    string
	// EmployeeCode is a Markdown format string taking the escaped code.
	EmployeeCode string
	// HRContact is a format string taking the HR username.
	HRContact  string
	PhotoError string
}

// DefaultTexts returns the stock English texts.
func DefaultTexts() Texts {
	return Texts{
		Welcome:         "Welcome to the Onboarding Bot! Let's start with a few questions.",
		Help:            "I will ask you a few questions to complete your onboarding.\n/start begins, /cancel aborts.",
		StartHint:       "Send /start to begin onboarding.",
		InProgress:      "Your onboarding is already in progress. Send /cancel to start over.",
		Cancelled:       "Onboarding canceled. Send /start to retry.",
		NothingToCancel: "There is nothing to cancel.",
		SinkFailed:      "Error saving details. We will keep retrying; you can also send any message to try again.",
		Expired:         "Your onboarding session expired due to inactivity. Send /start to begin again.",
		Dropped:         "Your onboarding session was closed by HR. Send /start to begin again.",
		Done:            "Thank you! Your details have been saved.",
		SummaryTitle:    "Summary:",
		EmployeeCode:    "Your Employee Code: *%s*",
		HRContact:       "Share your Employee Code with HR: https://t.me/%s",
		PhotoError:      "(Could not send image)",
	}
}

func (t Texts) withDefaults() Texts {
	d := DefaultTexts()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&t.Welcome, d.Welcome)
	fill(&t.Help, d.Help)
	fill(&t.StartHint, d.StartHint)
	fill(&t.InProgress, d.InProgress)
	fill(&t.Cancelled, d.Cancelled)
	fill(&t.NothingToCancel, d.NothingToCancel)
	fill(&t.SinkFailed, d.SinkFailed)
	fill(&t.Expired, d.Expired)
	fill(&t.Dropped, d.Dropped)
	fill(&t.Done, d.Done)
	fill(&t.SummaryTitle, d.SummaryTitle)
	fill(&t.EmployeeCode, d.EmployeeCode)
	fill(&t.HRContact, d.HRContact)
	fill(&t.PhotoError, d.PhotoError)
	return t
}
