// Package normalize turns provider payloads into canonical message fields.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message/mail"

	"aiva/internal/model"
)

// Fields is the normalized view of a raw provider message.
type Fields struct {
	Subject     string
	Body        string
	SenderName  string
	SenderEmail string
	Recipients  []string
	Timestamp   time.Time
	MessageID   string
	References  string
}

// Message normalizes subject, sender, recipients, timestamp and a plain-text
// body. The HTML part is used only when no text part exists.
func Message(raw *model.RawMessage) Fields {
	f := Fields{
		Subject:    strings.TrimSpace(html.UnescapeString(raw.Header("Subject"))),
		MessageID:  raw.Header("Message-ID"),
		References: raw.Header("References"),
		Timestamp:  raw.ReceivedAt,
	}
	f.SenderName, f.SenderEmail = ParseSender(raw.Header("From"))

	f.Recipients = append(f.Recipients, ParseAddressList(raw.Header("To"))...)
	f.Recipients = append(f.Recipients, ParseAddressList(raw.Header("Cc"))...)

	switch {
	case strings.TrimSpace(raw.TextBody) != "":
		f.Body = cleanText(html.UnescapeString(raw.TextBody))
	case raw.HTMLBody != "":
		f.Body = HTMLToText(raw.HTMLBody)
	default:
		f.Body = cleanText(html.UnescapeString(raw.Snippet))
	}

	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	return f
}

// ParseSender splits a From header into display name and lower-cased address.
func ParseSender(from string) (string, string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err == nil {
		return addr.Name, model.NormalizeAddress(addr.Address)
	}

	// Malformed headers such as `John Doe john@x.com` or unquoted commas.
	if start, end := strings.LastIndex(from, "<"), strings.LastIndex(from, ">"); start >= 0 && end > start {
		name := strings.Trim(strings.TrimSpace(from[:start]), `"`)
		return name, model.NormalizeAddress(from[start+1 : end])
	}
	if strings.Contains(from, "@") {
		return "", model.NormalizeAddress(from)
	}
	return from, ""
}

// ParseAddressList returns the lower-cased addresses of a header value,
// skipping entries that cannot be parsed.
func ParseAddressList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, model.NormalizeAddress(a.Address))
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if _, email := ParseSender(part); email != "" {
			out = append(out, email)
		}
	}
	return out
}

var blockElements = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, blockquote, pre, table"

// HTMLToText renders an HTML body as plain text with entities decoded.
func HTMLToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return cleanText(html.UnescapeString(stripTags(body)))
	}

	doc.Find("script, style, head, title").Remove()
	doc.Find(blockElements).Each(func(i int, s *goquery.Selection) {
		if goquery.NodeName(s) == "br" {
			s.ReplaceWithHtml("\n")
			return
		}
		s.AppendHtml("\n")
	})

	return cleanText(html.UnescapeString(doc.Text()))
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	spacePattern      = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, " ")
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
