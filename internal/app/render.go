package app

import (
	"bytes"
	"fmt"
	"html/template"

	"research_workflow_engine/internal/domain/delivery"
	"research_workflow_engine/internal/domain/notification"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>{{.Title}}</h2>
<div>{{.Body}}</div>
</body>
</html>
`))

// renderMessage expands the notification body as an HTML template over its
// metadata and wraps it in the mail layout. Metadata values are escaped.
func renderMessage(n *notification.Notification) (delivery.Message, error) {
	body, err := template.New("body").Option("missingkey=zero").Parse(n.Message)
	if err != nil {
		return delivery.Message{}, fmt.Errorf("parse message template: %w", err)
	}
	data := n.Metadata
	if data == nil {
		data = map[string]string{}
	}

	var inner bytes.Buffer
	if err := body.Execute(&inner, data); err != nil {
		return delivery.Message{}, fmt.Errorf("execute message template: %w", err)
	}

	var out bytes.Buffer
	err = layout.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: n.Title, Body: template.HTML(inner.String())})
	if err != nil {
		return delivery.Message{}, fmt.Errorf("execute layout: %w", err)
	}

	return delivery.Message{
		ToEmail:        n.RecipientEmail,
		ToName:         n.RecipientName,
		Subject:        n.Title,
		HTMLBody:       out.String(),
		IdempotencyKey: n.ID,
	}, nil
}
