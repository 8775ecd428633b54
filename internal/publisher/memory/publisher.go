// Package memory provides an in-memory publisher for development/testing.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is a published payload captured in memory.
type Message struct {
	Topic string
	Data  []byte
}

// Publisher collects published payloads in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
}

// New creates a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.messages = append(p.messages, Message{Topic: topic, Data: data})
	return fmt.Sprintf("mem-%d", p.seq), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
