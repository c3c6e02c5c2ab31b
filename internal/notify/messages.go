// Package notify delivers account notifications by email.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"ascms.org/internal/auth"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	// Secret is set when the body carries a credential; such messages are never logged in full.
	Secret bool
}

const footer = `<p>Best regards,<br/>AS-CMS Team</p>`

var templates = template.Must(template.New("notify").Parse(`
{{define "welcome"}}<h2>Welcome to AS-CMS!</h2>
<p>Dear {{.Name}},</p>
<p>Thank you for registering with AS-CMS. Your account has been created successfully.</p>
<p>You can now log in to your account and start using our services.</p>{{end}}
{{define "password_reset"}}<h2>Password Reset</h2>
<p>Dear {{.Name}},</p>
<p>Your password has been reset. Your new password is: <strong>{{.Password}}</strong></p>
<p>Please change this password after logging in.</p>
<p>If you did not request this reset, please contact support immediately.</p>{{end}}
{{define "activated"}}<h2>Account Activated</h2>
<p>Dear {{.Name}},</p>
<p>Your account has been activated. You can now log in and access all features.</p>{{end}}
{{define "deactivated"}}<h2>Account Deactivated</h2>
<p>Dear {{.Name}},</p>
<p>Your account has been deactivated.</p>
<p>If you believe this was done in error, please contact support.</p>{{end}}
{{define "group_assigned"}}<h2>Role Assignment</h2>
<p>Dear {{.Name}},</p>
<p>You have been assigned the role: <strong>{{.Group}}</strong></p>{{end}}
{{define "profile_updated"}}<h2>Profile Updated</h2>
<p>Dear {{.Name}},</p>
<p>Your profile has been updated.</p>
<p>If you did not make these changes, please contact support immediately.</p>{{end}}
`))

type templateData struct {
	Name     string
	Password string
	Group    string
}

var subjects = map[string]string{
	"welcome":         "Welcome to AS-CMS",
	"password_reset":  "Password Reset - AS-CMS",
	"activated":       "Account Activated - AS-CMS",
	"deactivated":     "Account Deactivated - AS-CMS",
	"group_assigned":  "Role Assignment - AS-CMS",
	"profile_updated": "Profile Updated - AS-CMS",
}

func render(kind string, to auth.Recipient, data templateData) (Message, error) {
	if to.Email == "" {
		return Message{}, fmt.Errorf("notify %s: recipient email is empty", kind)
	}
	if data.Name == "" {
		data.Name = to.Name
	}
	if data.Name == "" {
		data.Name = to.Email
	}
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, kind, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", kind, err)
	}
	body.WriteString("\n" + footer)
	return Message{
		To:      to.Email,
		Subject: subjects[kind],
		HTML:    body.String(),
		Secret:  data.Password != "",
	}, nil
}

// Sender delivers a rendered message.
type Sender interface {
	Send(m Message) error
}

// Notifier renders account notifications and hands them to a Sender.
type Notifier struct {
	sender Sender
}

var _ auth.Notifier = (*Notifier)(nil)

func New(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) deliver(kind string, to auth.Recipient, data templateData) error {
	m, err := render(kind, to, data)
	if err != nil {
		return err
	}
	return n.sender.Send(m)
}

func (n *Notifier) SendWelcome(_ context.Context, to auth.Recipient) error {
	return n.deliver("welcome", to, templateData{})
}

// SendPasswordReset fails when password is empty; the reset would be undeliverable.
func (n *Notifier) SendPasswordReset(_ context.Context, to auth.Recipient, password string) error {
	if password == "" {
		return fmt.Errorf("notify password_reset: password is empty")
	}
	return n.deliver("password_reset", to, templateData{Password: password})
}

func (n *Notifier) SendAccountActivated(_ context.Context, to auth.Recipient) error {
	return n.deliver("activated", to, templateData{})
}

func (n *Notifier) SendAccountDeactivated(_ context.Context, to auth.Recipient) error {
	return n.deliver("deactivated", to, templateData{})
}

func (n *Notifier) SendGroupAssigned(_ context.Context, to auth.Recipient, group string) error {
	return n.deliver("group_assigned", to, templateData{Group: group})
}

func (n *Notifier) SendProfileUpdated(_ context.Context, to auth.Recipient) error {
	return n.deliver("profile_updated", to, templateData{})
}
