package llm

import "context"

// Client is the model-call boundary used by the turn controller. Complete
// returns a classified fault on transport failure; retry is the caller's
// responsibility so the policy lives in one place.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
