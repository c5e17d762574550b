package domain

import "strings"

// criticalKeyPatterns maps variable-name fragments to the lead field
// they feed, checked in order. Answers stored under matching keys count
// as critical data.
var criticalKeyPatterns = []struct {
	kind      string
	fragments []string
}{
	{"phone", []string{"phone", "telefono", "teléfono", "celular", "whatsapp"}},
	{"email", []string{"email", "correo", "mail"}},
	{"name", []string{"name", "nombre"}},
}

// CriticalKeyKind classifies a collected-data key as "name", "phone",
// "email", or "" when it is not critical.
func CriticalKeyKind(key string) string {
	lower := strings.ToLower(key)
	for _, p := range criticalKeyPatterns {
		for _, fragment := range p.fragments {
			if strings.Contains(lower, fragment) {
				return p.kind
			}
		}
	}
	return ""
}
