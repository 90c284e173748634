package mail

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/net/html"
)

// ExtractPlainText pulls a readable text body out of a raw RFC 5322
// message. Multipart messages prefer text/plain parts and skip
// attachments; HTML-only messages fall back to stripped tag content.
func ExtractPlainText(r io.Reader) (string, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	plain, htmlAlt, err := extractPart(
		msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"),
		msg.Body,
	)
	if err != nil {
		return "", err
	}
	if plain != "" {
		return strings.TrimSpace(plain), nil
	}
	return strings.TrimSpace(htmlAlt), nil
}

func extractPart(contentType, encoding string, body io.Reader) (plain, htmlAlt string, err error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Missing or mangled header: RFC 2045 default.
		mediaType = "text/plain"
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return "", "", fmt.Errorf("multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for plain == "" {
			part, perr := mr.NextPart()
			if perr != nil {
				// EOF or a ragged trailing part: keep what we have.
				break
			}
			if strings.Contains(strings.ToLower(part.Header.Get("Content-Disposition")), "attachment") {
				continue
			}
			p, h, perr := extractPart(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if perr != nil {
				continue
			}
			if plain == "" {
				plain = p
			}
			if htmlAlt == "" {
				htmlAlt = h
			}
		}
		return plain, htmlAlt, nil

	case mediaType == "text/plain":
		text, err := readDecoded(body, encoding)
		return text, "", err

	case mediaType == "text/html":
		raw, err := readDecoded(body, encoding)
		return "", htmlToText(raw), err

	default:
		return "", "", nil
	}
}

// readDecoded reads a body through its transfer decoding. Partial output
// survives a decode error mid-stream; mailers emit malformed tails often
// enough that dropping the whole body is worse.
func readDecoded(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	b, err := io.ReadAll(r)
	if err != nil && len(b) == 0 {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

// htmlToText strips markup, keeping block boundaries as newlines and
// skipping script/style/head content.
func htmlToText(src string) string {
	tok := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.StartTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			case "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := tok.TagName()
			if string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tok.Text())
			}
		}
	}
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
