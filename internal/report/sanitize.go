// Package report assembles the shortlist export document. The renderer only
// supports the Latin-1 character set, so all text passes through a total
// sanitizer first: every rune maps to a representable substitute or is
// dropped, and layout never fails on input text.
package report

import "strings"

// transliterations maps common non-Latin-1 runes to ASCII substitutes.
// Clinical trial text is full of smart punctuation pasted from Word.
var transliterations = map[rune]string{
	'‘': "'",   // left single quote
	'’': "'",   // right single quote
	'‚': "'",   // single low quote
	'“': `"`,   // left double quote
	'”': `"`,   // right double quote
	'„': `"`,   // double low quote
	'–': "-",   // en dash
	'—': "-",   // em dash
	'―': "-",   // horizontal bar
	'−': "-",   // minus sign
	'•': "*",   // bullet
	'…': "...", // ellipsis
	' ': " ",   // no-break space
	' ': " ",   // thin space
	'​': "",    // zero-width space
	'≤': "<=",
	'≥': ">=",
	'≠': "!=",
	'™': "(TM)",
	'′': "'",
	'″': `"`,
}

// Sanitize maps text into the Latin-1 subset the renderer supports. Known
// punctuation is transliterated, Latin-1 runes pass through, and everything
// else is dropped. The mapping is total: sanitization never fails.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if sub, ok := transliterations[r]; ok {
			b.WriteString(sub)
			continue
		}
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20:
			// Other control characters are dropped.
		case r <= 0xFF:
			b.WriteRune(r)
		}
	}
	return b.String()
}
