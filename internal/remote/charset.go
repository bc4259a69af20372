package remote

import (
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// charsetOf extracts the codeset from a locale such as "zh_CN.GB18030@euro".
// Locales without a codeset ("C", "POSIX") yield "".
func charsetOf(lang string) string {
	if i := strings.IndexByte(lang, '@'); i >= 0 {
		lang = lang[:i]
	}
	i := strings.LastIndexByte(lang, '.')
	if i < 0 {
		return ""
	}
	return lang[i+1:]
}

// encodingFor resolves a locale to a text encoding, falling back to UTF-8
// for unknown or missing codesets.
func encodingFor(lang string) encoding.Encoding {
	name := charsetOf(lang)
	if name == "" {
		return unicode.UTF8
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return unicode.UTF8
	}
	return enc
}

// decodingReader decodes r from the charset named by lang into UTF-8.
// Multi-byte sequences split across reads are reassembled.
func decodingReader(r io.Reader, lang string) io.Reader {
	return transform.NewReader(r, encodingFor(lang).NewDecoder())
}

// dropInvalid removes the replacement characters the decoder substitutes for
// undecodable bytes.
func dropInvalid(s string) string {
	return strings.ReplaceAll(s, "\uFFFD", "")
}
