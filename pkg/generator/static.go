package generator

import (
	"context"
	"sync"
)

// Static replays scripted responses in order and records every request it
// serves. Once the script runs out (or when it was never given one) it echoes
// the instruction back, which makes it the dry-run backend: the caller sees
// exactly what a real generator would have been sent.
type Static struct {
	mu        sync.Mutex
	responses []string
	next      int
	requests  []Request
}

// NewStatic creates a scripted generator. With no responses it always echoes.
func NewStatic(responses ...string) *Static {
	return &Static{responses: responses}
}

func (g *Static) Provider() string { return ProviderStatic }

func (g *Static) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	if g.next < len(g.responses) {
		resp := g.responses[g.next]
		g.next++
		return resp, nil
	}
	return req.Instruction, nil
}

// Requests returns a copy of every request served so far.
func (g *Static) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, len(g.requests))
	copy(out, g.requests)
	return out
}
