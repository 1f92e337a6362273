package appointment

import (
	"fmt"
	"text/template"

	"github.com/legalmeet/intake/pkg/protocol"
)

// Scripted replies of the booking dialogue.
const (
	askName        = "Perfecto! 😊 ¿Cuál es tu nombre completo?"
	declined       = "Perfecto, sin problema. Cuando estés listo, escribe \"agendar cita\" y te ayudo. 👍"
	unclearAnswer  = "No entendí bien. ¿Quieres agendar una cita? Responde \"sí\" o \"no\" 😊"
	invalidName    = "Por favor escribe tu nombre completo 😊"
	askEmailFormat = "Gracias %s! ¿Cuál es tu email? 📧"
	invalidEmail   = "Ese email no parece válido. Por favor escribe un email correcto. Ej: nombre@gmail.com"
	askDate        = "Perfecto! ¿Qué día te viene bien para la cita?\n\nPuedes decir: \"mañana\", \"jueves\", \"25 de noviembre\", etc. 📅"
	invalidDate    = "Por favor indica una fecha válida 😊"
	askTime        = "Excelente! ¿A qué hora prefieres?\n\nEj: \"2pm\", \"10:30am\", \"3 de la tarde\" 🕐"
	incomplete     = "Hubo un error. Escribe \"agendar cita\" para empezar de nuevo."
)

// Question asks whether the user wants to book a lawyer for category.
func Question(category protocol.Category) string {
	return fmt.Sprintf("¿Te gustaría agendar una cita con un abogado especializado en %s? 📅\n\nResponde \"sí\" o \"no\"", category.Label())
}

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var confirmationTemplate = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"rule": func() string { return rule },
}).Parse(`{{rule}}
      ✅ CITA AGENDADA
{{rule}}

¡Listo {{.Name}}! Tu cita está confirmada.

📋 Radicado: {{.ReferenceID}}

👤 Cliente: {{.Name}}
📧 Email: {{.Email}}
📱 Contacto: {{.Contact}}

📂 Tipo de caso: {{.Category}}
⚠️  Urgencia: {{.Urgency}}

📅 Fecha de la cita: {{.Date}}
🕐 Hora: {{.Time}} (Hora Colombia)

📝 Solicitud creada: {{.CreatedAt}}

{{rule}}
📍 PRÓXIMOS PASOS
{{rule}}

1. Recibirás confirmación por email
2. El abogado te contactará 15 min antes
3. La consulta será por videollamada
4. Prepara tus documentos relacionados

💡 Si necesitas reagendar, escribe:
   "reagendar {{.ReferenceID}}"

{{rule}}

✨ Gracias por confiar en LegalMeet

Atención: {{.SupportEmail}}
WhatsApp: {{.SupportPhone}}`))

type confirmationData struct {
	ReferenceID  string
	Name         string
	Email        string
	Contact      string
	Category     string
	Urgency      string
	Date         string
	Time         string
	CreatedAt    string
	SupportEmail string
	SupportPhone string
}
