// Package envelope encodes and decodes the rich-content format embedded in
// message bodies. The only structured kind is a shared medical report: a
// two-line sentinel format, first line marker plus title, second line the
// file URL. Everything else is plain text.
package envelope

import "strings"

const marker = "Shared Report: "

// Content is either PlainText or SharedReport.
type Content interface{ content() }

// PlainText preserves a non-report body verbatim.
type PlainText struct {
	Text string
}

// SharedReport references a sharable medical report by title and URL.
type SharedReport struct {
	Title string
	URL   string
}

func (PlainText) content()    {}
func (SharedReport) content() {}

// EncodeSharedReport renders a report reference as a message body.
// The URL must not contain a newline.
func EncodeSharedReport(title, fileURL string) string {
	return marker + title + "\n" + fileURL
}

// Decode classifies a message body. A body is a SharedReport iff it starts
// with the marker and carries a URL line; malformed marker bodies fall back
// to PlainText so a bad frame never loses the original text.
func Decode(body string) Content {
	if !strings.HasPrefix(body, marker) {
		return PlainText{Text: body}
	}
	rest := body[len(marker):]
	title, url, ok := strings.Cut(rest, "\n")
	if !ok || url == "" {
		return PlainText{Text: body}
	}
	return SharedReport{Title: title, URL: url}
}

// IsSharedReport reports whether body decodes to a SharedReport.
func IsSharedReport(body string) bool {
	_, ok := Decode(body).(SharedReport)
	return ok
}
