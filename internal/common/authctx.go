package common

import "context"

// userIDKey is unexported so only this package can write the value; handlers
// read it through UserID.
type userIDKey struct{}

// WithUserID attaches the authenticated buyer's identifier to the context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID returns the authenticated buyer's identifier, if the request passed
// authentication.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok
}
