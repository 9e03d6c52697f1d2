package webhooksink

import (
	"bytes"
	"errors"
	"text/template"
	"time"

	"videomonitoring/internal/eventing"
)

const DefaultTemplate = `[Billing {{.KindLabel}}]
{{.EntityLabel}}: {{.EntityID}}
Account: {{.AccountID}}
Events this period: {{.Count}}
Threshold: {{.Threshold}}
Time: {{.OccurredAt}}
{{ if eq .Kind "snoozed" }}New signals are rejected until the thresholds are raised.{{ else }}Signals are still accepted.{{ end }}`

// TemplateData provides fields for rendering trigger content.
type TemplateData struct {
	Kind        string
	KindLabel   string
	EntityType  string
	EntityLabel string
	EntityID    string
	AccountID   string
	Count       int64
	Threshold   int64
	OccurredAt  string
}

func dataFor(t eventing.Trigger) TemplateData {
	kindLabel := "Warning"
	if t.Kind == "snoozed" {
		kindLabel = "Snoozed"
	}
	entityLabel := "Account"
	if t.EntityType == "camera" {
		entityLabel = "Camera"
	}
	return TemplateData{
		Kind:        t.Kind,
		KindLabel:   kindLabel,
		EntityType:  t.EntityType,
		EntityLabel: entityLabel,
		EntityID:    t.EntityID,
		AccountID:   t.AccountID,
		Count:       t.Count,
		Threshold:   t.Threshold,
		OccurredAt:  t.OccurredAt.UTC().Format(time.RFC3339),
	}
}

// Template renders trigger content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a trigger template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("billing-trigger").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("trigger template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
