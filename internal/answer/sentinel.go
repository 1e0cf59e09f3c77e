package answer

import "strings"

// handoverToken is the control token the engine emits when the user asks for
// a human agent. Models are inconsistent about brace styles, so all three
// spellings are recognized and stripped.
const handoverToken = "HANDOVER_REQUIRED"

var handoverVariants = []string{
	"{{HANDOVER_REQUIRED}}",
	"{HANDOVER_REQUIRED}",
	"HANDOVER_REQUIRED",
}

// ParseSentinel inspects raw engine output for the handover token.
// It returns the reply with all token variants removed and whether a
// handover was requested. The cleaned text may be empty when the engine
// emitted only the token.
func ParseSentinel(raw string) (string, bool) {
	if !strings.Contains(raw, handoverToken) {
		return raw, false
	}
	clean := raw
	for _, variant := range handoverVariants {
		clean = strings.ReplaceAll(clean, variant, "")
	}
	return strings.TrimSpace(clean), true
}
