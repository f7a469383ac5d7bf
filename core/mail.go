package core

import (
	"bytes"
	"net/mail"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/shule/fs"
)

var (
	templates *texttmpl.Template
	tmplInit  sync.Once
	tmplErr   error
)

type (
	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails.
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) getContextData() ContextData {
	return ContextData{
		FrontendBaseURL: Conf.FrontendBaseURL,
		Data:            m.TemplateData,
	}
}

// Render resolves the message's final text content, executing its
// template from the embedded template set if one is named.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}

	tmplInit.Do(parseTemplates)
	if tmplErr != nil {
		return tmplErr
	}

	var buff bytes.Buffer
	if err := templates.ExecuteTemplate(&buff, m.TemplateName+".txt", m.getContextData()); err != nil {
		return errors.Wrap(err, "executing email template")
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return m.TextContent != "" }

func parseTemplates() {
	templates, tmplErr = texttmpl.ParseFS(appfs.FS, "templates/email/*.txt")
	if tmplErr != nil {
		tmplErr = errors.Wrap(tmplErr, "parsing email templates")
	}
}
