package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"avisos/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

const dateLayout = "02/01/2006"

// view is the data the templates see. Money and dates are preformatted for
// pt-BR so templates stay free of logic.
type view struct {
	Name         string
	Email        string
	Amount       string
	Date         string
	Address      string
	ContractCode string
	Index        string
	WeekStart    string
	WeekEnd      string
	Summary      types.WeeklySummary
	SenderName   string
}

// Renderer maps (kind, payload) to a subject and HTML/text bodies using the
// embedded templates. It holds no mutable state and is safe for concurrent use.
type Renderer struct {
	html       map[types.NotificationKind]*template.Template
	text       map[types.NotificationKind]*texttemplate.Template
	senderName string
	printer    *message.Printer
}

// NewRenderer parses every kind's templates. A missing or malformed template
// fails construction, not the first send.
func NewRenderer(senderName string) (*Renderer, error) {
	r := &Renderer{
		html:       make(map[types.NotificationKind]*template.Template, len(types.AllKinds)),
		text:       make(map[types.NotificationKind]*texttemplate.Template, len(types.AllKinds)),
		senderName: senderName,
		printer:    message.NewPrinter(language.BrazilianPortuguese),
	}

	base, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: reading base.html: %w", err)
	}

	for _, kind := range types.AllKinds {
		name := string(kind)

		htmlSrc, err := templateFS.ReadFile("templates/" + name + ".html")
		if err != nil {
			return nil, fmt.Errorf("renderer: reading %s.html: %w", name, err)
		}
		h, err := template.New("base").Option("missingkey=error").Parse(string(base))
		if err != nil {
			return nil, fmt.Errorf("renderer: parsing base.html: %w", err)
		}
		if _, err := h.Parse(string(htmlSrc)); err != nil {
			return nil, fmt.Errorf("renderer: parsing %s.html: %w", name, err)
		}
		r.html[kind] = h

		txtSrc, err := templateFS.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("renderer: reading %s.txt: %w", name, err)
		}
		tt, err := texttemplate.New(name).Option("missingkey=error").Parse(string(txtSrc))
		if err != nil {
			return nil, fmt.Errorf("renderer: parsing %s.txt: %w", name, err)
		}
		r.text[kind] = tt
	}
	return r, nil
}

// Render produces the message for one candidate. Missing required data yields
// render_missing_field; template execution failures yield render_failed. Both
// are permanent for the candidate.
func (r *Renderer) Render(kind types.NotificationKind, p types.Payload) (*types.RenderedMessage, error) {
	h, ok := r.html[kind]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeRenderFailed, fmt.Sprintf("no template for kind %q", kind), nil)
	}
	t := r.text[kind]

	if err := requireFields(kind, p); err != nil {
		return nil, err
	}
	v := r.buildView(p)

	var subject, text, html bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", v); err != nil {
		return nil, renderFailed(kind, "subject", err)
	}
	if err := t.ExecuteTemplate(&text, "body", v); err != nil {
		return nil, renderFailed(kind, "text body", err)
	}
	if err := h.Execute(&html, v); err != nil {
		return nil, renderFailed(kind, "html body", err)
	}

	return &types.RenderedMessage{
		Subject:  strings.TrimSpace(subject.String()),
		BodyHTML: html.String(),
		BodyText: strings.TrimLeft(text.String(), "\n"),
	}, nil
}

func renderFailed(kind types.NotificationKind, part string, err error) error {
	return types.NewAppError(types.ErrCodeRenderFailed, fmt.Sprintf("rendering %s of %s", part, kind), err)
}

// requireFields checks the payload carries what the kind's template prints.
func requireFields(kind types.NotificationKind, p types.Payload) error {
	var missing []string
	need := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	switch kind {
	case types.KindBirthday, types.KindWelcome:
		need(strings.TrimSpace(p.Name) != "", "name")
	case types.KindRentDue:
		need(strings.TrimSpace(p.Name) != "", "name")
		need(p.AmountCents > 0, "amount")
		need(!p.Date.IsZero(), "date")
	case types.KindReadjustment, types.KindContractExpiry:
		need(strings.TrimSpace(p.Name) != "", "name")
		need(!p.Date.IsZero(), "date")
	case types.KindWeeklyReport:
		need(p.Summary != nil, "summary")
	}

	if len(missing) == 0 {
		return nil
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeRenderMissingField,
		fmt.Sprintf("%s payload is missing %s", kind, strings.Join(missing, ", ")),
		nil,
		map[string]any{"fields": missing},
	)
}

func (r *Renderer) buildView(p types.Payload) view {
	v := view{
		Name:         strings.TrimSpace(p.Name),
		Email:        p.Email,
		Address:      p.PropertyAddress,
		ContractCode: p.ContractCode,
		Index:        p.ReadjustmentIndex,
		SenderName:   r.senderName,
	}
	if v.Index == "" {
		v.Index = "previsto em contrato"
	}
	if p.AmountCents > 0 {
		v.Amount = r.FormatBRL(p.AmountCents)
	}
	if !p.Date.IsZero() {
		v.Date = FormatDate(p.Date)
	}
	if p.Summary != nil {
		v.Summary = *p.Summary
		v.WeekStart = FormatDate(p.Summary.WeekStart)
		v.WeekEnd = FormatDate(p.Summary.WeekEnd)
	}
	return v
}

// FormatBRL renders cents as Brazilian reais, e.g. 123456 -> "R$ 1.234,56".
func (r *Renderer) FormatBRL(cents int64) string {
	return r.printer.Sprintf("R$ %.2f", float64(cents)/100)
}

// FormatDate renders a calendar date as dd/mm/yyyy.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
