// Package notify delivers one-time codes and account messages over email
// (SMTP through gomail) and SMS (Twilio Messages REST API).
package notify
