package mail

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

// Template names one of the embedded mail templates.
type Template string

const (
	TemplateConfirmation   Template = "confirmation"
	TemplateForgotPassword Template = "forgot-password"
	TemplateNotification   Template = "notification"
	TemplateOTP            Template = "otp"
	TemplateReminder       Template = "reminder"
	TemplateResetPassword  Template = "reset-password"
	TemplateUpdatePassword Template = "update-password"
)

// Templates lists every template known to the renderer.
var Templates = []Template{
	TemplateConfirmation,
	TemplateForgotPassword,
	TemplateNotification,
	TemplateOTP,
	TemplateReminder,
	TemplateResetPassword,
	TemplateUpdatePassword,
}

// ErrUnknownTemplate is returned for a template name outside the closed set.
var ErrUnknownTemplate = errors.New("unknown template")

// RenderError reports a template that failed to execute, usually because a
// required variable is missing.
type RenderError struct {
	Template Template
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render template %q: %v", string(e.Template), e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Valid reports whether t is part of the closed template set.
func (t Template) Valid() bool {
	for _, known := range Templates {
		if t == known {
			return true
		}
	}
	return false
}

//go:embed templates/*.html
var templateFS embed.FS

// Renderer renders the embedded templates into HTML and derived plain text.
// It is safe for concurrent use.
type Renderer struct {
	set map[Template]*template.Template
}

// NewRenderer parses every template once. Execution fails on any variable
// the template references but the caller did not supply.
func NewRenderer() (*Renderer, error) {
	set := make(map[Template]*template.Template, len(Templates))
	for _, name := range Templates {
		t, err := template.New(string(name)).
			Funcs(sprig.HtmlFuncMap()).
			Option("missingkey=error").
			ParseFS(templateFS, "templates/layout.html", "templates/"+string(name)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %q: %w", string(name), err)
		}
		set[name] = t
	}
	return &Renderer{set: set}, nil
}

// MustNewRenderer is like NewRenderer but panics on a broken embedded template.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the named template with vars. On failure nothing is
// returned besides the error.
func (r *Renderer) Render(name Template, vars map[string]any) (html string, text string, err error) {
	t, ok := r.set[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, string(name))
	}
	if vars == nil {
		vars = map[string]any{}
	}
	var b bytes.Buffer
	if err := t.ExecuteTemplate(&b, string(name)+".html", vars); err != nil {
		return "", "", &RenderError{Template: name, Err: err}
	}
	html = b.String()
	return html, HTMLToText(html), nil
}
