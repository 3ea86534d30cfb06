package script

// Default returns the stock HR onboarding questionnaire.
func Default() *Script {
	return MustNew(
		Field{Key: "name", Prompt: "What's your full name?", Rule: RuleRequired, Column: "Name"},
		Field{Key: "gender", Prompt: "What's your gender?", Rule: RuleChoice, Choices: []string{"Male", "Female", "Other"}, Column: "Gender"},
		Field{Key: "phone", Prompt: "Please enter your Phone Number (digits only, e.g. 9876543210)", Rule: RulePhone, Column: "Phone"},
		Field{Key: "email", Prompt: "Enter your Email address:", Rule: RuleEmail, Column: "Email"},
		Field{Key: "whatsapp", Prompt: "WhatsApp Number (or type 'same' if same as phone):", Rule: RulePhone, Transform: "same_as:phone", Column: "WhatsApp"},
		Field{Key: "telegram_user", Prompt: "Send your Telegram UserId (or @username):", Rule: RuleRequired, Column: "Telegram User"},
		Field{Key: "account_number", Prompt: "Enter your Account Number:", Rule: RuleDigits, Column: "Account Number"},
		Field{Key: "ifsc", Prompt: "Enter your Bank IFSC code (e.g., HDFC0001234):", Rule: RuleIFSC, Transform: "upper", Column: "IFSC"},
		Field{Key: "bank_name", Prompt: "Enter your Bank Name:", Rule: RuleRequired, Column: "Bank Name"},
	)
}
