package docs

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// previewRunes bounds the locally-derived preview snippet.
const previewRunes = 240

// ExtractPreview derives a preview snippet and a character count from
// the document itself, for backends that return neither. PDF and HTML
// get text extraction; everything else is treated as plain text.
func ExtractPreview(name string, data []byte) (preview string, chars int) {
	var text string
	switch strings.ToLower(extOf(name)) {
	case ".pdf":
		text = pdfText(data)
	case ".html", ".htm":
		text = htmlText(data)
	default:
		if utf8.Valid(data) {
			text = string(data)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", 0
	}
	chars = utf8.RuneCountInString(text)
	runes := []rune(text)
	if len(runes) > previewRunes {
		runes = runes[:previewRunes]
	}
	return string(runes), chars
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

func pdfText(data []byte) (text string) {
	// The pdf package panics on some malformed inputs; a bad upload
	// must not take the client down.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return ""
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return ""
	}
	return string(raw)
}

func htmlText(data []byte) string {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}
