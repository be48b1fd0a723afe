package domain

// Message keys for the short user-facing strings that cross the API
// boundary. Everything else stays in logs.
type MessageKey string

// User-visible message keys.
const (
	MsgNoConnection MessageKey = "no_connection"
	MsgInterrupted  MessageKey = "interrupted"
)

var messages = map[string]map[MessageKey]string{
	"en": {
		MsgNoConnection: "No connection. Connect to the internet and try again.",
		MsgInterrupted:  "Download interrupted. Retry manually.",
	},
	"de": {
		MsgNoConnection: "Keine Verbindung. Mit dem Internet verbinden und erneut versuchen.",
		MsgInterrupted:  "Download unterbrochen. Manuell erneut starten.",
	},
}

// Localize resolves a message key for a language, falling back to English.
func Localize(lang string, key MessageKey) string {
	if m, ok := messages[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return messages["en"][key]
}
