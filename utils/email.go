package utils

import (
	"fmt"
	"io"

	"gopkg.in/gomail.v2"
)

// Mailer sends transactional mail over SMTP. A zero-config mailer is
// disabled: sends log a warning and return nil so a missing SMTP setup only
// degrades statements and ops alerts.
type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether the mailer has enough config to dial.
func (m *Mailer) Enabled() bool {
	return m != nil && m.Host != "" && m.From != ""
}

func (m *Mailer) send(msg *gomail.Message) error {
	if !m.Enabled() {
		LogWarn("Mailer not configured, dropping email %q", msg.GetHeader("Subject"))
		return nil
	}
	d := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}
	return nil
}

// SendStatement emails an account statement spreadsheet to the user.
func (m *Mailer) SendStatement(to, name string, statement []byte) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your KudiPal Account Statement")
	msg.SetBody("text/html", fmt.Sprintf(`
		<h2>Hello %s,</h2>
		<p>Your account statement for the last 90 days is attached.</p>
		<p>If you did not request this statement, please contact support.</p>
	`, name))
	msg.Attach("statement.xlsx", gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(statement)
		return err
	}))
	return m.send(msg)
}

// SendOpsAlert emails the operations address about a condition that needs a
// human, such as a reconciliation that exhausted its window.
func (m *Mailer) SendOpsAlert(to, subject, body string) error {
	if to == "" {
		LogWarn("No ops alert email configured, dropping alert %q", subject)
		return nil
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.send(msg)
}
