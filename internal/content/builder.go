// Package content renders channel-specific notification payloads from
// a shared notification type so a single dispatch can target any
// channel without re-deriving content.
package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/clinic-notify/internal/models"
)

// Bundle holds one rendered payload per channel type. The dispatcher
// hands the relevant part to whichever adapter it tries.
type Bundle struct {
	// Text is the plain body used for SMS and as LINE alt text.
	Text string
	// Subject and Body are the email rendering.
	Subject string
	Body    string
	// Flex is the structured LINE message payload.
	Flex    map[string]any
	AltText string
}

// Option customises the builder.
type Option func(*Builder)

// WithLocation sets the timezone used to format appointment times.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithClinicName overrides the clinic name rendered into templates.
func WithClinicName(name string) Option {
	return func(b *Builder) {
		if strings.TrimSpace(name) != "" {
			b.clinicName = strings.TrimSpace(name)
		}
	}
}

// Builder renders notification content. It is stateless aside from its
// configuration and safe for concurrent use.
type Builder struct {
	clinicName string
	loc        *time.Location
}

// NewBuilder constructs a content builder with sensible defaults.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		clinicName: "さくら歯科クリニック",
		loc:        time.FixedZone("JST", 9*60*60),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build renders the bundle for a notification type. An unrecognized
// type renders through the generic template rather than erroring.
func (b *Builder) Build(t models.NotificationType, rec *models.Recipient, appt *models.Appointment) *Bundle {
	tpl, ok := templates[t]
	if !ok {
		tpl = templates[models.TypeGeneric]
	}

	name := "患者"
	if rec != nil && strings.TrimSpace(rec.Name) != "" {
		name = strings.TrimSpace(rec.Name)
	}

	when := ""
	treatment := ""
	if appt != nil {
		when = appt.StartsAt.In(b.loc).Format("2006年1月2日 15:04")
		treatment = appt.Treatment
	}

	text := b.expand(tpl.text, name, when, treatment)
	subject := b.expand(tpl.subject, name, when, treatment)
	body := b.expand(tpl.emailBody, name, when, treatment)

	return &Bundle{
		Text:    text,
		Subject: subject,
		Body:    body,
		Flex:    b.flexBubble(tpl.title, text, when),
		AltText: text,
	}
}

func (b *Builder) expand(tpl, name, when, treatment string) string {
	r := strings.NewReplacer(
		"{clinic}", b.clinicName,
		"{name}", name,
		"{datetime}", when,
		"{treatment}", treatment,
	)
	out := r.Replace(tpl)
	// Collapse the treatment line when no appointment detail exists.
	out = strings.ReplaceAll(out, "（）", "")
	return strings.TrimSpace(out)
}

// flexBubble assembles the LINE flex message contents. The structure
// follows the Messaging API bubble container format.
func (b *Builder) flexBubble(title, text, when string) map[string]any {
	bodyContents := []map[string]any{
		{
			"type":   "text",
			"text":   title,
			"weight": "bold",
			"size":   "lg",
		},
		{
			"type": "text",
			"text": text,
			"wrap": true,
			"size": "sm",
		},
	}
	if when != "" {
		bodyContents = append(bodyContents, map[string]any{
			"type":  "text",
			"text":  fmt.Sprintf("日時: %s", when),
			"size":  "sm",
			"color": "#555555",
		})
	}

	return map[string]any{
		"type": "bubble",
		"body": map[string]any{
			"type":     "box",
			"layout":   "vertical",
			"spacing":  "md",
			"contents": bodyContents,
		},
		"footer": map[string]any{
			"type":   "box",
			"layout": "horizontal",
			"contents": []map[string]any{
				{
					"type":  "button",
					"style": "primary",
					"action": map[string]any{
						"type":  "postback",
						"label": "確認しました",
						"data":  "action=confirm",
					},
				},
			},
		},
	}
}
