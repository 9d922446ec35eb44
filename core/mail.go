package core

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

var (
	templates   = make(map[string]emailTemplate)
	templatesMu sync.RWMutex
)

type (
	emailTemplate struct {
		text *texttmpl.Template
		html *htmltmpl.Template
	}

	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Bcc     []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		AppName string
		Data    interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// RegisterEmailTemplate parses and registers the text and (optional) html bodies of a named email.
// Templates are executed with a ContextData.
func RegisterEmailTemplate(name, text, html string) error {
	tmpl := emailTemplate{}
	var err error
	if text != "" {
		if tmpl.text, err = texttmpl.New(name).Option("missingkey=error").Parse(text); err != nil {
			return errors.Wrapf(err, "parsing %s.txt", name)
		}
	}
	if html != "" {
		if tmpl.html, err = htmltmpl.New(name).Option("missingkey=error").Parse(html); err != nil {
			return errors.Wrapf(err, "parsing %s.html", name)
		}
	}
	templatesMu.Lock()
	templates[name] = tmpl
	templatesMu.Unlock()
	return nil
}

func (m *EmailMessage) getTemplate() (emailTemplate, bool) {
	templatesMu.RLock()
	defer templatesMu.RUnlock()
	tmpl, ok := templates[m.TemplateName]
	return tmpl, ok
}

// Render fills TextContent and HTMLContent from BodyStr or the registered template.
func (m *EmailMessage) Render(appName string) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}
	tmpl, ok := m.getTemplate()
	if !ok {
		return errors.Errorf("email template %q not registered", m.TemplateName)
	}

	data := ContextData{AppName: appName, Data: m.TemplateData}
	var buff bytes.Buffer
	if tmpl.text != nil {
		if err := tmpl.text.Execute(&buff, data); err != nil {
			return errors.Wrap(err, "rendering text")
		}
		m.TextContent = buff.String()
	}
	if tmpl.html != nil {
		buff.Reset()
		if err := tmpl.html.Execute(&buff, data); err != nil {
			return errors.Wrap(err, "rendering html")
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }
