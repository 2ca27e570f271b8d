package parsers

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	tagPatterns   sync.Map // tag name -> *regexp.Regexp
)

// normalizeDocument strips the SGML header and the OFX envelope and collapses whitespace
func normalizeDocument(raw string) string {
	doc := raw
	if idx := strings.Index(doc, "<"); idx > 0 {
		doc = doc[idx:]
	} else if idx < 0 {
		return ""
	}

	upper := asciiUpper(doc)
	if start := strings.Index(upper, "<OFX>"); start >= 0 {
		doc = doc[start+len("<OFX>"):]
		upper = upper[start+len("<OFX>"):]
	}
	if end := strings.LastIndex(upper, "</OFX>"); end >= 0 {
		doc = doc[:end]
	}

	doc = whitespaceRun.ReplaceAllString(doc, " ")
	return strings.TrimSpace(doc)
}

// decodeDocument returns the document as UTF-8, decoding Windows-1252 when needed
func decodeDocument(data []byte, decodeLegacy bool) (string, bool) {
	if utf8.Valid(data) {
		return string(data), true
	}
	if !decodeLegacy {
		return "", false
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func tagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)<` + regexp.QuoteMeta(tag) + `>([^<]*)`)
	actual, _ := tagPatterns.LoadOrStore(tag, re)
	return actual.(*regexp.Regexp)
}

// tagValue returns the trimmed text following the first occurrence of <TAG>
func tagValue(doc, tag string) string {
	m := tagPattern(tag).FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// section returns the content of the first <TAG> block. The closing tag is optional;
// without it the section runs until the next occurrence of any stop tag or the end.
func section(doc, tag string, stops ...string) (string, bool) {
	upper := asciiUpper(doc)
	open := "<" + tag + ">"
	start := strings.Index(upper, open)
	if start < 0 {
		return "", false
	}
	body := start + len(open)

	end := len(doc)
	if idx := strings.Index(upper[body:], "</"+tag+">"); idx >= 0 {
		end = body + idx
	}
	for _, stop := range stops {
		if idx := strings.Index(upper[body:], "<"+stop+">"); idx >= 0 && body+idx < end {
			end = body + idx
		}
	}
	return doc[body:end], true
}

// transactionBlocks splits the document into the bodies of every <STMTTRN> block.
// A block ends at its closing tag, at the next block, or at the end of the transaction list.
func transactionBlocks(doc string) []string {
	const open = "<STMTTRN>"
	upper := asciiUpper(doc)

	var blocks []string
	pos := 0
	for {
		idx := strings.Index(upper[pos:], open)
		if idx < 0 {
			break
		}
		body := pos + idx + len(open)

		end := len(doc)
		for _, terminator := range []string{"</STMTTRN>", open, "</BANKTRANLIST>", "<LEDGERBAL>", "<AVAILBAL>"} {
			if t := strings.Index(upper[body:], terminator); t >= 0 && body+t < end {
				end = body + t
			}
		}

		blocks = append(blocks, doc[body:end])
		pos = end
	}
	return blocks
}

// asciiUpper upper-cases ASCII letters only so byte offsets match the original text
func asciiUpper(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, s)
}
