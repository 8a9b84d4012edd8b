package model

import "context"

// RouterCompleter adapts a Router plus a fixed RoutingConfig into the
// narrow one-shot text-completion capability that patterns.Completer and
// planner.Completer depend on, so neither package needs to know about
// provider selection (spec §4.3, §4.5, §4.6).
type RouterCompleter struct {
	Router    *Router
	Config    RoutingConfig
	MaxTokens int
}

// Complete sends prompt as a single user message under category and
// returns the response's text.
func (c *RouterCompleter) Complete(ctx context.Context, category TaskCategory, prompt string) (string, error) {
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	resp, err := c.Router.Complete(ctx, category, "", c.Config, &Request{
		Messages:  []Message{{Role: RoleUser, Parts: []Part{TextPart{Text: prompt}}}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Text(), nil
}
