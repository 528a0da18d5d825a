package codec

import (
	"bytes"
	"context"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Raw HTML inside markdown is escaped, goldmark's safe default.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func markdownToHTML(_ context.Context, doc *Document, _ Source) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(doc.Text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func htmlToMarkdown(_ context.Context, doc *Document, _ Source) (string, error) {
	return htmltomarkdown.ConvertString(doc.Text)
}
