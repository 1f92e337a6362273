package fulfillment

import (
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Branding is the contact copy printed at the bottom of tickets.
type Branding struct {
	PlatformURL  string
	SupportEmail string
	SupportPhone string
}

// DefaultBranding is used when the service is built without one.
var DefaultBranding = Branding{
	PlatformURL:  "https://legalmeet-demo.vercel.app/dashboard",
	SupportEmail: "soporte@legalmeet.co",
	SupportPhone: "+57 310 357 6748",
}

var copPrinter = message.NewPrinter(language.MustParse("es-CO"))

// FormatCOP renders whole pesos the way tickets show them: "$150.000 COP".
func FormatCOP(amount int64) string {
	return copPrinter.Sprintf("$%d COP", amount)
}

// UrgencyMarker returns the colored dot shown next to an urgency level.
func UrgencyMarker(u protocol.Urgency) string {
	switch u {
	case protocol.UrgencyHigh:
		return "🔴"
	case protocol.UrgencyMedium:
		return "🟡"
	}
	return "🟢"
}

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var ticketTemplate = template.Must(template.New("ticket").Funcs(template.FuncMap{
	"cop":    FormatCOP,
	"marker": UrgencyMarker,
	"rule":   func() string { return rule },
}).Parse(`{{rule}}
      🏛️ LEGALMEET
   Asesoría Legal Inteligente
{{rule}}

✅ CASO REGISTRADO EXITOSAMENTE

📋 Radicado: {{.ReferenceID}}
📅 Fecha: {{.Date}}
📱 Contacto: {{.Contact}}

{{rule}}
DETALLES DEL CASO
{{rule}}

📂 Categoría: {{.Category.Label}}

{{marker .Urgency}} Urgencia: {{.Urgency.Label}}
{{with .Title}}
📌 {{.}}
{{end}}
📝 Descripción:
{{.Summary}}

💵 COSTO ESTIMADO DE CONSULTA:
   {{cop .Estimate.Estimated}}

   Rango: {{cop .Estimate.Min}} - {{cop .Estimate.Max}}
{{- if .Surcharge}}
   (Incluye recargo por urgencia)
{{- end}}

{{rule}}
📍 PRÓXIMOS PASOS
{{rule}}

1️⃣ Revisa abogados en la plataforma
2️⃣ Selecciona el de tu preferencia
3️⃣ Agenda tu consulta
4️⃣ Realiza el pago seguro

⚡ Los abogados especializados en
   {{.Category.Label}}
   han sido notificados.

{{rule}}
🔗 ACCEDE A LA PLATAFORMA
{{rule}}

{{.Brand.PlatformURL}}

{{rule}}
💡 NOTA IMPORTANTE
{{rule}}

Este radicado es tu referencia única.
Guárdalo para seguimiento de tu caso.

Los precios son estimados y pueden
variar según el abogado seleccionado
y la complejidad del caso.

{{rule}}

✨ Gracias por confiar en LegalMeet

Atención al cliente: {{.Brand.SupportEmail}}
WhatsApp: {{.Brand.SupportPhone}}`))

type ticketData struct {
	ReferenceID string
	Date        string
	Contact     string
	Category    protocol.Category
	Urgency     protocol.Urgency
	Title       string
	Summary     string
	Estimate    protocol.Estimate
	Surcharge   bool
	Brand       Branding
}

// RenderTicket renders the case ticket sent to the user.
func RenderTicket(ref, contact string, c protocol.Classification, est protocol.Estimate, at time.Time, brand Branding) (string, error) {
	summary := strings.TrimSpace(c.Summary)
	if summary == "" {
		summary = c.Title
	}
	var b strings.Builder
	err := ticketTemplate.Execute(&b, ticketData{
		ReferenceID: ref,
		Date:        datetime.FormatShort(at),
		Contact:     contact,
		Category:    c.Category,
		Urgency:     c.Urgency,
		Title:       c.Title,
		Summary:     summary,
		Estimate:    est,
		Surcharge:   c.Urgency == protocol.UrgencyHigh,
		Brand:       brand,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
