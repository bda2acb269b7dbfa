package fixedwidth

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// PreText returns the text content of the first <pre> element in an HTML
// page, including text inside nested elements.
func PreText(page []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(page))
	var sb strings.Builder
	depth := 0
	found := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if found {
				// Unclosed <pre> at end of document.
				return sb.String(), nil
			}
			return "", &domain.DecodeError{Format: "html", Offset: -1, Err: fmt.Errorf("no <pre> element: %w", domain.ErrShortRecord)}
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == "pre" {
				found = true
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "pre" && depth > 0 {
				depth--
				if depth == 0 {
					return sb.String(), nil
				}
			}
		case html.TextToken:
			if depth > 0 {
				sb.Write(z.Text())
			}
		}
	}
}
