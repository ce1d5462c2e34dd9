package wsrouter

import "context"

type ctxKey int

const messageTypeKey ctxKey = iota

// GetMessageTypeFromCtx returns the type of the message currently being
// routed, or an empty string outside of a handler.
func GetMessageTypeFromCtx(ctx context.Context) string {
	messageType, ok := ctx.Value(messageTypeKey).(string)
	if !ok {
		return ""
	}

	return messageType
}
