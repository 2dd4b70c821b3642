// Package composer generates per-customer marketing copy for a persona's
// offer, either through an LLM on Bedrock or from Liquid templates.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
)

var ErrMalformed = errors.New("generated copy is missing SUBJECT or BODY")

// Request is everything known about one message to compose.
type Request struct {
	Customer domain.CustomerRecord
	Persona  domain.Persona
	Offer    domain.Offer
}

// Composer turns a request into a subject and body.
type Composer interface {
	Compose(ctx context.Context, req Request) (domain.Message, error)
}

// ParseSubjectBody splits model output of the form
//
//	SUBJECT: ...
//	BODY: ...
//
// into a message.
func ParseSubjectBody(text string) (domain.Message, error) {
	i := strings.Index(text, "BODY:")
	if i < 0 {
		return domain.Message{}, ErrMalformed
	}
	head, body := text[:i], text[i+len("BODY:"):]
	subject := strings.TrimSpace(strings.Replace(head, "SUBJECT:", "", 1))
	body = strings.TrimSpace(body)
	if subject == "" || body == "" {
		return domain.Message{}, ErrMalformed
	}
	return domain.Message{Subject: subject, Body: body}, nil
}

// Prompt builds the copywriting instruction sent to the model.
func Prompt(req Request) string {
	return fmt.Sprintf(`You are an expert bank marketing copywriter. Rewrite a standard banking offer into an attractive, professional and believable marketing email. The tone should be helpful and build trust.

Customer Profile:
- Name: %s
- Persona: %s

Standard Offer Details:
- Product Name: %s
- Description: %s
- Key Features: %s

Generate an email with a compelling subject line and a concise, believable body.
Format the response as:
SUBJECT: [Your subject]
BODY: [Your body]`,
		req.Customer.Name, req.Persona, req.Offer.ProductName, req.Offer.Description, req.Offer.KeyFeatures)
}

// Fallback tries primary and, when it fails, secondary.
type Fallback struct {
	Primary   Composer
	Secondary Composer
}

func (f Fallback) Compose(ctx context.Context, req Request) (domain.Message, error) {
	msg, err := f.Primary.Compose(ctx, req)
	if err == nil {
		return msg, nil
	}
	if ctx.Err() != nil {
		return domain.Message{}, err
	}
	logger.Warn("primary composer failed, using fallback", "customer_id", req.Customer.CustomerID, "error", err)
	return f.Secondary.Compose(ctx, req)
}
