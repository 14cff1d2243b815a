package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// maxMessageRunes is the Bot API limit for one sendMessage text.
	maxMessageRunes = 4096
)

// ErrNoRecipient is returned when neither the user nor the operator mode
// names a chat.
var ErrNoRecipient = errors.New("telegram: no chat id for recipient")

// Sender delivers research briefs to each user's Telegram chat via the bot API.
type Sender struct {
	botToken string
	// operatorChat, when set, receives every brief regardless of recipient.
	operatorChat string
	apiBase      string
	client       *http.Client
}

var _ ports.Sender = (*Sender)(nil)

// NewSender registers the bot token. A non-empty operatorChat switches the
// sender to single-recipient operator mode: every brief, including its link
// tokens, goes to that chat. Leave it empty when more than one user is served.
// An empty apiBase uses the public Bot API.
func NewSender(botToken, operatorChat, apiBase string, client *http.Client) *Sender {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Sender{
		botToken:     botToken,
		operatorChat: operatorChat,
		apiBase:      strings.TrimRight(apiBase, "/"),
		client:       client,
	}
}

// Send posts the subject and a Telegram-safe rendering of body to the chat id
// in to, or to the operator chat in operator mode.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if s.botToken == "" || s.client == nil {
		return fmt.Errorf("telegram sender misconfigured")
	}
	chatID := strings.TrimSpace(to)
	if s.operatorChat != "" {
		chatID = s.operatorChat
	}
	if chatID == "" {
		return ErrNoRecipient
	}

	text, err := MessageText(subject, body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Description string `json:"description"`
		}
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Description != "" {
			return fmt.Errorf("telegram error: %s: %s", resp.Status, apiErr.Description)
		}
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

// MessageText flattens report HTML into the tag subset the Bot API accepts
// (b, a) and caps it at the message size limit.
func MessageText(subject, body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse message html: %w", err)
	}
	doc.Find("head, script, style, hr").Remove()

	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(subject) + "</b>\n\n")
	for _, n := range doc.Find("body").Nodes {
		writeNode(&b, n)
	}

	text := collapseBlankLines(b.String())
	runes := []rune(text)
	if len(runes) > maxMessageRunes {
		text = closeOpenTags(string(runes[:maxMessageRunes-1])) + "…"
	}
	return text, nil
}

func writeNode(b *strings.Builder, n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		b.WriteString(html.EscapeString(n.Data))
		return
	case xhtml.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(b, c)
		}
		return
	}

	var open, closing string
	switch n.Data {
	case "h1", "h2", "h3", "h4", "strong", "b":
		open, closing = "<b>", "</b>"
	case "a":
		for _, attr := range n.Attr {
			if attr.Key == "href" && attr.Val != "" {
				open, closing = `<a href="`+html.EscapeString(attr.Val)+`">`, "</a>"
			}
		}
	case "li":
		open = "• "
	}
	if isBlock(n.Data) {
		b.WriteString("\n")
	}
	b.WriteString(open)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(b, c)
	}
	b.WriteString(closing)
	if isBlock(n.Data) {
		b.WriteString("\n")
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "ol", "br", "section", "article":
		return true
	}
	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// closeOpenTags drops a dangling partial tag and closes b/a tags left open
// by truncation.
func closeOpenTags(s string) string {
	if i := strings.LastIndexByte(s, '<'); i > strings.LastIndexByte(s, '>') {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '&'); i > strings.LastIndexByte(s, ';') {
		s = s[:i]
	}
	if strings.Count(s, "<a ") > strings.Count(s, "</a>") {
		s += "</a>"
	}
	if strings.Count(s, "<b>") > strings.Count(s, "</b>") {
		s += "</b>"
	}
	return s
}

// LogSender logs notifications instead of sending them and reports each one
// as not delivered; used when no delivery channel is configured.
type LogSender struct {
	logger *slog.Logger
}

var _ ports.Sender = (*LogSender)(nil)

// NewLogSender wraps a logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	if s.logger != nil {
		s.logger.Info("notification not delivered: no channel configured",
			"to", to, "subject", subject, "html_bytes", len(body))
	}
	return domain.ErrNoChannel
}
