package auth

import "context"

type voterContextKey struct{}

// ContextWithVoter attaches the authenticated voter to the context.
func ContextWithVoter(ctx context.Context, v Voter) context.Context {
	return context.WithValue(ctx, voterContextKey{}, &v)
}

// VoterFromContext extracts the authenticated voter from the context.
func VoterFromContext(ctx context.Context) (Voter, bool) {
	if ctx == nil {
		return Voter{}, false
	}
	v, ok := ctx.Value(voterContextKey{}).(*Voter)
	if !ok || v == nil || v.Key.Empty() {
		return Voter{}, false
	}
	return *v, true
}
