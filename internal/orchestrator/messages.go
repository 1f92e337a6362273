package orchestrator

import (
	"fmt"
	"strings"

	"github.com/legalmeet/intake/internal/fold"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/internal/transcribe"
)

const (
	greeting   = "¡Hola! 👋 Soy tu asistente legal de LegalMeet.\n\nCuéntame, ¿qué situación legal estás enfrentando?"
	resetReply = "Ok, reiniciamos. 😊\n\nCuéntame, ¿en qué situación legal puedo ayudarte?"

	audioFailed = "😔 No pude procesar tu audio.\n\nPor favor escribe tu mensaje, o envía \"cancelar\" si quieres empezar de nuevo."

	audioGuidance = "🎙️ Tips para enviar audio:\n\n" +
		"• Mantén el audio corto (máximo 30 segundos)\n" +
		"• Habla claro y sin ruido de fondo\n" +
		"• Si falla, puedes escribir el mensaje\n\n" +
		"💡 Si algo falla, escribe \"cancelar\" para reiniciar."

	unsupportedMedia = "Por el momento solo puedo procesar mensajes de texto o audio. 😊"
)

var echoPhrases = []string{
	"Perfecto, escuché: \"%s\"",
	"Entendido, me dijiste: \"%s\"",
	"Ok, te escuché decir: \"%s\"",
}

// Whole-message keywords. Punctuation is ignored, so "¡Hola!" and the
// Telegram "/reset" command both match.
var (
	resetKeywords = []string{"reiniciar", "reset", "cancelar", "cancel", "salir", "restart"}
	startKeywords = []string{"iniciar", "hola", "start", "empezar", "hello"}
)

func echo(rnd random.Source, transcript string) string {
	return fmt.Sprintf(random.Pick(rnd, echoPhrases), transcript)
}

// audioFailureReply picks the recovery copy for a failed transcription.
// Oversized and unusable recordings get recording tips as well.
func audioFailureReply(err error) string {
	switch transcribe.ReasonOf(err) {
	case transcribe.ReasonUnsupported:
		return unsupportedMedia
	case transcribe.ReasonOversized, transcribe.ReasonEmpty:
		return audioFailed + "\n\n" + audioGuidance
	}
	return audioFailed
}

func isKeyword(text string, keywords []string) bool {
	s := strings.Join(fold.Words(text), " ")
	for _, k := range keywords {
		if s == k {
			return true
		}
	}
	return false
}
