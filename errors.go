package deliverkit

import "errors"

var (
	// ErrInvalidOptions is returned by Verify and VerifyBatch when the
	// builder was given an unusable configuration.
	ErrInvalidOptions = errors.New("deliverkit: invalid options")

	// ErrInvalidSMTPOptions is returned when WithSMTP is called
	// but HeloDomain or MailFrom is missing.
	ErrInvalidSMTPOptions = errors.New("deliverkit: SMTPOptions requires HeloDomain and MailFrom")
)
