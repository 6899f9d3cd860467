package memory

import "log"

// Mailer delivers the links the backend would normally email.
type Mailer interface {
	SendVerificationEmail(to string, verificationLink string) error
	SendPasswordResetEmail(to string, resetLink string) error
	SendSignInLinkEmail(to string, signInLink string) error
}

// ConsoleMailer is a development Mailer that logs emails to the console.
type ConsoleMailer struct{}

func (c *ConsoleMailer) SendVerificationEmail(to string, verificationLink string) error {
	log.Printf("\n=== EMAIL: Verification ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Verify your email address")
	log.Printf("Body: Please verify your email by clicking: %s", verificationLink)
	log.Printf("===========================\n")
	return nil
}

func (c *ConsoleMailer) SendPasswordResetEmail(to string, resetLink string) error {
	log.Printf("\n=== EMAIL: Password Reset ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Reset your password")
	log.Printf("Body: Reset your password by clicking: %s", resetLink)
	log.Printf("==============================\n")
	return nil
}

func (c *ConsoleMailer) SendSignInLinkEmail(to string, signInLink string) error {
	log.Printf("\n=== EMAIL: Sign-in Link ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Sign in to your account")
	log.Printf("Body: Sign in by clicking: %s", signInLink)
	log.Printf("============================\n")
	return nil
}
