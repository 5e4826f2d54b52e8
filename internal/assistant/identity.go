package assistant

import "context"

// Identity is the signed-in (or guest) user driving a conversation.
// IDToken is empty for guests; booking tools require it and refuse
// politely when it is missing.
type Identity struct {
	UserID  string
	Name    string
	Email   string
	IDToken string
}

type identityKey struct{}

// ContextWithIdentity attaches the user identity to the context.
// Tools read it back to authenticate booking calls.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
