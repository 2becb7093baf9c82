package goIdP

import "context"

type clientIPContextKey struct{}
type rememberedDevicesContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRememberedDevices attaches the auth ids for which the browser carries a
// valid remember-device grant. The HTTP layer decodes the cookie; the engine
// only reads the ids.
func WithRememberedDevices(ctx context.Context, authIDs []string) context.Context {
	return context.WithValue(ctx, rememberedDevicesContextKey{}, authIDs)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func rememberedDevicesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}

	ids, _ := ctx.Value(rememberedDevicesContextKey{}).([]string)
	return ids
}
