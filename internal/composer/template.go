package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// Default templates used when the configuration does not override them.
const (
	DefaultSubjectTemplate = `{{ first_name | default: "Hello" }}, meet {{ product_name }}`
	DefaultBodyTemplate    = `Hi {{ first_name | default: "there" }},

As one of our {{ persona }} customers, we thought you would like {{ product_name }}.

{{ description }}

What you get: {{ key_features }}

Reply to this email or visit your nearest branch to learn more.`
)

// Template renders copy from Liquid templates. It makes no outbound calls.
type Template struct {
	subject *liquid.Template
	body    *liquid.Template
}

// NewTemplate parses the subject and body templates. Empty strings select
// the defaults.
func NewTemplate(subjectTmpl, bodyTmpl string) (*Template, error) {
	if subjectTmpl == "" {
		subjectTmpl = DefaultSubjectTemplate
	}
	if bodyTmpl == "" {
		bodyTmpl = DefaultBodyTemplate
	}

	engine := liquid.NewEngine()
	// {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	subject, err := engine.ParseString(subjectTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	body, err := engine.ParseString(bodyTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return &Template{subject: subject, body: body}, nil
}

func (t *Template) Compose(_ context.Context, req Request) (domain.Message, error) {
	bindings := liquid.Bindings{
		"name":         req.Customer.Name,
		"first_name":   firstName(req.Customer.Name),
		"email":        req.Customer.Email,
		"customer_id":  req.Customer.CustomerID,
		"persona":      string(req.Persona),
		"product_name": req.Offer.ProductName,
		"description":  req.Offer.Description,
		"key_features": req.Offer.KeyFeatures,
	}
	subject, err := t.subject.RenderString(bindings)
	if err != nil {
		return domain.Message{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := t.body.RenderString(bindings)
	if err != nil {
		return domain.Message{}, fmt.Errorf("render body: %w", err)
	}
	return domain.Message{Subject: strings.TrimSpace(subject), Body: strings.TrimSpace(body)}, nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
