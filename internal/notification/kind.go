// Package notification builds transactional emails and hands them to the job
// queue. Delivery goes through the mail package.
package notification

import (
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
)

// Kind identifies a notification event. Each kind has a fixed subject and
// template.
type Kind string

const (
	KindConfirmation   Kind = "confirmation"
	KindForgotPassword Kind = "forgot-password"
	KindNotification   Kind = "notification"
	KindOTP            Kind = "otp"
	KindReminder       Kind = "reminder"
	KindResetPassword  Kind = "reset-password"
	KindUpdatePassword Kind = "update-password"
)

type definition struct {
	subject  string
	template mail.Template
}

var definitions = map[Kind]definition{
	KindConfirmation:   {"Account Activation for Attendance", mail.TemplateConfirmation},
	KindForgotPassword: {"Password Reset for Attendance", mail.TemplateForgotPassword},
	KindNotification:   {"Security Alert for Attendance", mail.TemplateNotification},
	KindOTP:            {"Your requested OTP for Attendance", mail.TemplateOTP},
	KindReminder:       {"Reminder to check out for today", mail.TemplateReminder},
	KindResetPassword:  {"Password Reset Confirmation for Attendance", mail.TemplateResetPassword},
	KindUpdatePassword: {"Your Attendance password has been changed", mail.TemplateUpdatePassword},
}

func (k Kind) Subject() string {
	return definitions[k].subject
}

func (k Kind) Template() mail.Template {
	return definitions[k].template
}

func (k Kind) Valid() bool {
	_, ok := definitions[k]
	return ok
}

// DedupKey names the job for kind sent to address, e.g.
// "email-confirmation-user@example.com". Equal inputs always give equal keys.
func DedupKey(kind Kind, address string) string {
	return "email-" + string(kind) + "-" + address
}

// Recipient is the addressee of a notification.
type Recipient struct {
	Email string
	Name  string
}

// AlertDetails personalises a security alert. Empty fields are omitted.
type AlertDetails struct {
	Device   string
	IP       string
	SignedIn string
}

func (a AlertDetails) vars() map[string]any {
	vars := map[string]any{}
	if a.Device != "" {
		vars["device"] = a.Device
	}
	if a.IP != "" {
		vars["ip"] = a.IP
	}
	if a.SignedIn != "" {
		vars["signedIn"] = a.SignedIn
	}
	return vars
}
