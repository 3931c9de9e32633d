package page

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// MaxPrompts is the most choices a page may offer; one per keypad digit 1-4.
const MaxPrompts = 4

// Page is one generated page: the text read aloud and the caller's choices.
// An empty Prompts list marks the end of the story.
type Page struct {
	Story   string   `json:"story"`
	Prompts []string `json:"prompts"`
}

// IsEnd reports whether the page closes the story
func (p *Page) IsEnd() bool {
	return len(p.Prompts) == 0
}

// ParseError reports model output that could not be turned into a Page
type ParseError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("page: %s: %v", e.Reason, e.Err)
	}
	return "page: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type rawPage struct {
	Story   *string   `json:"story"`
	Prompts *[]string `json:"prompts"`
}

// Parse decodes a generated page. Models often wrap the JSON object in prose
// or code fences, so only the text between the first '{' and the last '}' is
// decoded.
func Parse(raw string) (*Page, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, &ParseError{Raw: raw, Reason: "no JSON object in response"}
	}

	var rp rawPage
	if err := sonic.UnmarshalString(raw[start:end+1], &rp); err != nil {
		return nil, &ParseError{Raw: raw, Reason: "malformed JSON", Err: err}
	}

	if rp.Story == nil || strings.TrimSpace(*rp.Story) == "" {
		return nil, &ParseError{Raw: raw, Reason: "missing story"}
	}
	if rp.Prompts == nil {
		return nil, &ParseError{Raw: raw, Reason: "missing prompts"}
	}

	if n := len(*rp.Prompts); n > MaxPrompts {
		return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("%d prompts, at most %d allowed", n, MaxPrompts)}
	}
	prompts := make([]string, 0, len(*rp.Prompts))
	for i, p := range *rp.Prompts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("prompt %d is empty", i+1)}
		}
		prompts = append(prompts, p)
	}

	return &Page{Story: strings.TrimSpace(*rp.Story), Prompts: prompts}, nil
}
