package matcher

import (
	"regexp"
	"strings"
)

// Text canonicalization and similarity for free-text bank concepts. Bank
// statements arrive uppercase, accented and padded with transfer boilerplate;
// everything here works on a normalized lowercase token stream.

var (
	uuidPattern  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	folioPattern = regexp.MustCompile(`\b\d{4,8}\b`)
	seriePattern = regexp.MustCompile(`\b[A-Z]{1,5}\d{1,8}\b`)
	rfcPattern   = regexp.MustCompile(`\b[A-ZÑ&]{3,4}\d{6}[A-Z0-9]{3}\b`)

	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	// Transfer boilerplate the banks prepend to the actual payer concept.
	bankPrefixes = []string{
		"spei enviado", "spei recibido", "spei devuelto",
		"transferencia interbancaria", "transferencia electronica", "transferencia",
		"deposito en efectivo", "deposito", "retiro",
		"pago de servicio", "pago recibido", "pago",
		"traspaso entre cuentas", "traspaso",
		"cargo", "abono",
	}

	accentReplacer = strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
		"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
	)
)

// NormalizeText lowercases, strips accents and drops everything that is not a
// letter, digit or space, collapsing runs of whitespace.
func NormalizeText(text string) string {
	text = accentReplacer.Replace(strings.ToLower(text))
	text = nonAlnumPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanBankConcept normalizes a statement concept and strips the leading
// transfer boilerplate so only the payer-specific text remains.
func CleanBankConcept(concept string) string {
	text := NormalizeText(concept)
	for changed := true; changed; {
		changed = false
		for _, prefix := range bankPrefixes {
			if strings.HasPrefix(text, prefix+" ") {
				text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
				changed = true
			} else if text == prefix {
				return ""
			}
		}
	}
	return text
}

// TextSimilarity computes the token-overlap Dice coefficient between two
// texts after normalization: 2*|A∩B| / (|A|+|B|) over distinct tokens.
// The result is deterministic and in [0, 1].
func TextSimilarity(a, b string) float64 {
	tokensA := tokenSet(NormalizeText(a))
	tokensB := tokenSet(NormalizeText(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	common := 0
	for token := range tokensA {
		if tokensB[token] {
			common++
		}
	}
	return 2 * float64(common) / float64(len(tokensA)+len(tokensB))
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(normalized) {
		set[token] = true
	}
	return set
}

// ExtractUUIDs returns the CFDI fiscal folio UUIDs found in the text,
// lowercased.
func ExtractUUIDs(text string) []string {
	matches := uuidPattern.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.ToLower(m)
	}
	return matches
}

// ExtractFolios returns the numeric folio candidates (4 to 8 digits) found in
// the text.
func ExtractFolios(text string) []string {
	return folioPattern.FindAllString(text, -1)
}

// ExtractSeries returns serie+folio candidates such as "A1234" or "FAC567"
// found in the text. The scan runs over the uppercased input because bank
// concepts mix cases freely.
func ExtractSeries(text string) []string {
	return seriePattern.FindAllString(strings.ToUpper(text), -1)
}

// ExtractRFCs returns the Mexican taxpayer IDs found in the text, covering
// both the 12-character company and 13-character individual shapes.
func ExtractRFCs(text string) []string {
	return rfcPattern.FindAllString(strings.ToUpper(text), -1)
}
