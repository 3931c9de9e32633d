// Package pagetest provides in-process stand-ins for the chat model and the
// speech service so page generation can run without network access.
package pagetest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel answers every request with Reply. It records the prompts it saw.
type ChatModel struct {
	mu       sync.Mutex
	Reply    func(prompt string) (string, error)
	requests [][]*schema.Message
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// Replying returns a ChatModel that always answers with content
func Replying(content string) *ChatModel {
	return &ChatModel{Reply: func(string) (string, error) { return content, nil }}
}

// Sequence returns a ChatModel that hands out pages in order, then repeats the last one
func Sequence(contents ...string) *ChatModel {
	var mu sync.Mutex
	i := 0
	return &ChatModel{Reply: func(string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(contents) == 0 {
			return "", errors.New("no replies configured")
		}
		c := contents[min(i, len(contents)-1)]
		i++
		return c, nil
	}}
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, input)
	m.mu.Unlock()

	var prompt string
	if n := len(input); n > 0 {
		prompt = input[n-1].Content
	}
	content, err := m.Reply(prompt)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns how many requests reached the model
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the message lists the model received
func (m *ChatModel) Requests() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.requests...)
}

// Renderer turns a script into a short tone. Fail makes the next N calls fail.
type Renderer struct {
	mu      sync.Mutex
	scripts []string
	fail    int
}

// FailNext makes the next n renders return an error
func (r *Renderer) FailNext(n int) {
	r.mu.Lock()
	r.fail = n
	r.mu.Unlock()
}

func (r *Renderer) Render(ctx context.Context, script string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
	if r.fail > 0 {
		r.fail--
		return nil, fmt.Errorf("speech service unavailable")
	}

	pcm := make([]byte, 2*len(script))
	for i := range len(script) {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(script[i])<<6)
	}
	return pcm, nil
}

// Scripts returns every script passed to Render, failed ones included
func (r *Renderer) Scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}

// PageJSON formats a model reply
func PageJSON(story string, prompts ...string) string {
	out := fmt.Sprintf("{\"story\": %q, \"prompts\": [", story)
	for i, p := range prompts {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", p)
	}
	return out + "]}"
}
