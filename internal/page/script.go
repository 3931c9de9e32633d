package page

import (
	"math/rand/v2"
	"strings"

	"read2me/internal/config"
)

var ordinals = [MaxPrompts]string{"one", "two", "three", "four"}

// Picker returns a random index in [0, n)
type Picker func(n int) int

// Composer writes the two-voice script that is sent to speech synthesis.
// The narrator reads the page, the guide offers the choices.
type Composer struct {
	story *config.Story
	pick  Picker
}

// NewComposer creates a Composer. A nil pick uses math/rand.
func NewComposer(story *config.Story, pick Picker) *Composer {
	if pick == nil {
		pick = rand.IntN
	}
	return &Composer{story: story, pick: pick}
}

// Script renders a page as speaker-prefixed lines
func (c *Composer) Script(p *Page) string {
	narrator, guide := c.story.Narrator.Name, c.story.Guide.Name

	var b strings.Builder
	if p.IsEnd() {
		line(&b, narrator, p.Story+" The end!")
		line(&b, guide, c.choose(c.story.Closings))
		line(&b, narrator, c.choose(c.story.Goodbyes))
		return b.String()
	}

	line(&b, narrator, p.Story)

	var choices strings.Builder
	choices.WriteString(c.choose(c.story.Transitions))
	for i, prompt := range p.Prompts {
		if i >= MaxPrompts {
			break
		}
		if choices.Len() > 0 && !strings.HasSuffix(choices.String(), " ") {
			choices.WriteByte(' ')
		}
		choices.WriteString("Press " + ordinals[i] + " for " + strings.TrimRight(prompt, ".") + ".")
	}
	line(&b, guide, choices.String())
	return b.String()
}

func (c *Composer) choose(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[c.pick(len(lines))]
}

func line(b *strings.Builder, speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString(speaker)
	b.WriteString(": ")
	b.WriteString(text)
	b.WriteByte('\n')
}
