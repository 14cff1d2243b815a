package render

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

// HTMLRenderer converts report markdown into sanitized HTML and wraps it into
// the delivery message.
type HTMLRenderer struct {
	md      goldmark.Markdown
	policy  *bluemonday.Policy
	baseURL string
	layout  *template.Template
}

var _ ports.Renderer = (*HTMLRenderer)(nil)

const notificationLayout = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: -apple-system, Segoe UI, Helvetica, Arial, sans-serif; max-width: 680px; margin: 0 auto;">
{{.Body}}
<hr>
<p style="font-size: 12px; color: #666;">
{{- if .Preferences}}<a href="{{.Preferences}}">Preferences</a>{{end}}
{{- if .Pause}} · <a href="{{.Pause}}">Pause research briefs</a>{{end}}
{{- if .Unsubscribe}} · <a href="{{.Unsubscribe}}">Unsubscribe</a>{{end}}
</p>
</body></html>`

// NewHTMLRenderer builds a renderer; baseURL prefixes the footer links.
func NewHTMLRenderer(baseURL string) *HTMLRenderer {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &HTMLRenderer{
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:  policy,
		baseURL: strings.TrimRight(baseURL, "/"),
		layout:  template.Must(template.New("notification").Parse(notificationLayout)),
	}
}

// Markdown renders markdown and strips anything outside the UGC policy.
func (r *HTMLRenderer) Markdown(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Notification wraps already sanitized report HTML with the footer links.
// Empty tokens omit their link.
func (r *HTMLRenderer) Notification(subject, body string, tokens domain.LinkTokens) (string, error) {
	data := struct {
		Subject     string
		Body        template.HTML
		Preferences string
		Pause       string
		Unsubscribe string
	}{
		Subject:     subject,
		Body:        template.HTML(r.policy.Sanitize(body)),
		Preferences: r.link("preferences", tokens.Preferences),
		Pause:       r.link("pause", tokens.Pause),
		Unsubscribe: r.link("unsubscribe", tokens.Unsubscribe),
	}
	var buf bytes.Buffer
	if err := r.layout.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}

func (r *HTMLRenderer) link(path, token string) string {
	if token == "" {
		return ""
	}
	return r.baseURL + "/" + path + "?token=" + url.QueryEscape(token)
}
