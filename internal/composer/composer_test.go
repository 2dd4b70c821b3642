package composer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/persona-segmentation/internal/domain"
)

var testReq = Request{
	Customer: domain.CustomerRecord{CustomerID: "c1", Name: "Ada Lovelace", Email: "ada@example.com"},
	Persona:  "Affluent Customers",
	Offer: domain.Offer{
		Persona:     "Affluent Customers",
		ProductName: "Platinum Rewards Card",
		Description: "A premium card for frequent travellers.",
		KeyFeatures: "Lounge access, 3x points",
	},
}

func TestParseSubjectBody(t *testing.T) {
	msg, err := ParseSubjectBody("SUBJECT: Your upgrade is here\nBODY: Dear Ada,\nEnjoy.")
	require.NoError(t, err)
	assert.Equal(t, "Your upgrade is here", msg.Subject)
	assert.Equal(t, "Dear Ada,\nEnjoy.", msg.Body)

	for _, bad := range []string{"", "SUBJECT: only subject", "BODY: only body", "SUBJECT: x\nBODY:   "} {
		_, err := ParseSubjectBody(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestPromptMentionsOffer(t *testing.T) {
	p := Prompt(testReq)
	assert.Contains(t, p, "Ada Lovelace")
	assert.Contains(t, p, "Platinum Rewards Card")
	assert.Contains(t, p, "SUBJECT:")
}

type fakeInvoker struct {
	reply string
	err   error
	got   bedrockRequest
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := json.Unmarshal(in.Body, &f.got); err != nil {
		return nil, err
	}
	body, _ := json.Marshal(bedrockResponse{Content: []contentBlock{{Type: "text", Text: f.reply}}})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockCompose(t *testing.T) {
	fake := &fakeInvoker{reply: "SUBJECT: Travel in style\nBODY: Hi Ada, the Platinum card is ready."}
	b := &Bedrock{client: fake, modelID: "test-model"}

	msg, err := b.Compose(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, "Travel in style", msg.Subject)
	assert.Equal(t, "bedrock-2023-05-31", fake.got.AnthropicVersion)
	require.Len(t, fake.got.Messages, 1)
	assert.Contains(t, fake.got.Messages[0].Content[0].Text, "Platinum Rewards Card")
}

func TestBedrockComposeMalformed(t *testing.T) {
	b := &Bedrock{client: &fakeInvoker{reply: "Sure! Here is an email."}, modelID: "m"}
	_, err := b.Compose(context.Background(), testReq)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTemplateCompose(t *testing.T) {
	tmpl, err := NewTemplate("", "")
	require.NoError(t, err)

	msg, err := tmpl.Compose(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, "Ada, meet Platinum Rewards Card", msg.Subject)
	assert.Contains(t, msg.Body, "Hi Ada,")
	assert.Contains(t, msg.Body, "Affluent Customers")
	assert.Contains(t, msg.Body, "Lounge access")
}

func TestTemplateDefaultFilter(t *testing.T) {
	tmpl, err := NewTemplate(`{{ first_name | default: "Friend" }}`, `{{ product_name }}`)
	require.NoError(t, err)

	req := testReq
	req.Customer.Name = ""
	msg, err := tmpl.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Friend", msg.Subject)
}

func TestNewTemplateRejectsBadSyntax(t *testing.T) {
	_, err := NewTemplate("{% if %}", "")
	assert.Error(t, err)
}

func TestFallback(t *testing.T) {
	tmpl, _ := NewTemplate("", "")
	f := Fallback{
		Primary:   &Bedrock{client: &fakeInvoker{err: errors.New("throttled")}, modelID: "m"},
		Secondary: tmpl,
	}
	msg, err := f.Compose(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, "Ada, meet Platinum Rewards Card", msg.Subject)
}
