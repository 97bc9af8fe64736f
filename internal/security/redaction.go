package security

import (
	"regexp"
	"strings"
)

var (
	secretKeyExpr        = `(?:password|passwd|secret|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*)`
	kvSecretPattern      = regexp.MustCompile(`(?i)(` + secretKeyExpr + `)\s*[:=]\s*(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"']+)`)
	kvLooseSecretPattern = regexp.MustCompile(`(?i)\b(client_secret|private_key|aws_access_key_id|aws_secret_access_key)\b\s+(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"']+)`)
	jsonSecretPattern    = regexp.MustCompile(`(?i)("` + secretKeyExpr + `"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	authorizationPattern = regexp.MustCompile(`(?i)(authorization\s*:\s*)[^\r\n]+`)
	bearerTokenPattern   = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	pemBlockPattern      = regexp.MustCompile(`(?s)-----BEGIN [^-]+ PRIVATE KEY-----.*?-----END [^-]+ PRIVATE KEY-----`)
	cookiePattern        = regexp.MustCompile(`(?i)(cookie\s*:\s*)[^\r\n]+`)
	urlUserinfoPattern   = regexp.MustCompile(`(?i)(\b[a-z][a-z0-9+.-]*://)[^\s/@]+@`)

	// EXECVE records spell each argument as aN="..." or as hex.
	execveArgPattern = regexp.MustCompile(`(\ba[1-9][0-9]*=)(?:"[^"]*"|[0-9A-Fa-f]+)`)
	proctitlePattern = regexp.MustCompile(`(\bproctitle=)(?:"[^"]*"|[^\s]+)`)
)

// RedactPayload masks credentials in free text: key/value secrets, auth
// headers, PEM private keys and URL userinfo.
func RedactPayload(input string) string {
	if input == "" {
		return ""
	}
	out := pemBlockPattern.ReplaceAllString(input, "[REDACTED_PRIVATE_KEY]")
	out = jsonSecretPattern.ReplaceAllString(out, `${1}"[REDACTED]"`)
	out = kvSecretPattern.ReplaceAllStringFunc(out, func(match string) string {
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return "[REDACTED]"
		}
		return match[:idx+1] + " [REDACTED]"
	})
	out = kvLooseSecretPattern.ReplaceAllStringFunc(out, func(match string) string {
		idx := strings.IndexAny(match, " \t")
		if idx < 0 {
			return "[REDACTED]"
		}
		return match[:idx] + " [REDACTED]"
	})
	out = authorizationPattern.ReplaceAllString(out, `${1}[REDACTED]`)
	out = bearerTokenPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	out = cookiePattern.ReplaceAllString(out, `${1}[REDACTED]`)
	out = urlUserinfoPattern.ReplaceAllString(out, `${1}[REDACTED]@`)
	return out
}

// RedactAuditEvent redacts one audit record for display. The command line
// of the denied process is dropped from PROCTITLE and EXECVE records; the
// program name in a0 is kept.
func RedactAuditEvent(line string) string {
	if line == "" {
		return ""
	}
	out := proctitlePattern.ReplaceAllString(line, `${1}[REDACTED]`)
	if strings.HasPrefix(out, "type=EXECVE") {
		out = execveArgPattern.ReplaceAllString(out, `${1}[REDACTED]`)
	}
	return RedactPayload(out)
}

// RedactError prepares an error message for the fix journal.
func RedactError(msg string) string {
	return RedactPayload(strings.TrimSpace(msg))
}
