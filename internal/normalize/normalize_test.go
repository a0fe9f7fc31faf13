package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aiva/internal/model"
)

func TestHTMLToText(t *testing.T) {
	body := `<html><head><style>p{color:red}</style></head><body>
		<p>Hello&nbsp;Ana,</p><p>Your order &amp; invoice are <b>ready</b>.</p>
		<script>alert(1)</script><div>Thanks<br>Team</div></body></html>`

	text := HTMLToText(body)
	assert.Contains(t, text, "Hello Ana,")
	assert.Contains(t, text, "Your order & invoice are ready.")
	assert.Contains(t, text, "Thanks\nTeam")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "<")
}

func TestParseSender(t *testing.T) {
	tests := []struct {
		from, name, email string
	}{
		{`"Jane Doe" <Jane@Example.com>`, "Jane Doe", "jane@example.com"},
		{`jane@example.com`, "", "jane@example.com"},
		{`Jane Doe, Sales <jane@example.com>`, "Jane Doe, Sales", "jane@example.com"},
		{``, "", ""},
		{`Mailer Daemon`, "Mailer Daemon", ""},
	}
	for _, tt := range tests {
		name, email := ParseSender(tt.from)
		assert.Equal(t, tt.name, name, tt.from)
		assert.Equal(t, tt.email, email, tt.from)
	}
}

func TestParseAddressList(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, ParseAddressList(`A <A@x.com>, b@y.com`))
	assert.Nil(t, ParseAddressList(" "))
}

func TestMessagePrefersTextPart(t *testing.T) {
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw := &model.RawMessage{
		ID:       "m1",
		ThreadID: "t1",
		Headers: map[string]string{
			"subject":    " Pricing question ",
			"From":       "Bob <bob@client.com>",
			"To":         "support@acme.com",
			"Cc":         "sales@acme.com",
			"Message-ID": "<abc@client.com>",
		},
		TextBody:   "Hi,\r\n\r\n\r\n\r\nWhat does the pro plan cost?",
		HTMLBody:   "<p>ignored</p>",
		ReceivedAt: received,
	}

	f := Message(raw)
	assert.Equal(t, "Pricing question", f.Subject)
	assert.Equal(t, "Bob", f.SenderName)
	assert.Equal(t, "bob@client.com", f.SenderEmail)
	assert.Equal(t, []string{"support@acme.com", "sales@acme.com"}, f.Recipients)
	assert.Equal(t, "Hi,\n\nWhat does the pro plan cost?", f.Body)
	assert.Equal(t, "<abc@client.com>", f.MessageID)
	assert.Equal(t, received, f.Timestamp)
}

func TestMessageFallsBackToHTML(t *testing.T) {
	raw := &model.RawMessage{
		Headers:  map[string]string{"From": "x@y.com"},
		HTMLBody: "<div>Caf&eacute; opens at 9</div>",
	}
	f := Message(raw)
	assert.Equal(t, "Café opens at 9", f.Body)
	assert.False(t, f.Timestamp.IsZero())
}
