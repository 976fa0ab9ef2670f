package email

import "strings"

// RedactEmail masks a mailbox for logs: "maria@imob.com.br" -> "m***@imob.com.br".
// Strings without "@" are masked entirely.
func RedactEmail(addr string) string {
	if addr == "" {
		return ""
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	first := []rune(local)[0]
	return string(first) + "***@" + domain
}
