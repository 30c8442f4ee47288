package checkout

import "strings"

// NormalizePhone converts a stored phone number to the provider's format.
// Numbers stored as "+CC.SUBSCRIBER" keep the last digit of the country code
// in front of the subscriber digits ("+880.1712345678" becomes
// "01712345678"); anything else is reduced to its digits.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "+") {
		if country, subscriber, ok := strings.Cut(raw[1:], "."); ok {
			cc := digitsOnly(country)
			prefix := ""
			if cc != "" {
				prefix = cc[len(cc)-1:]
			}
			return prefix + digitsOnly(subscriber)
		}
	}
	return digitsOnly(raw)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
