package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// RequestData carries the identity extracted from a verified studio
// token. The compiler treats both ids as opaque; issuance lives in the
// identity service.
type RequestData struct {
	WorkspaceID uuid.UUID
	ClientID    uuid.UUID
	Role        string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, ctxKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(ctxKey{}).(*RequestData)
	return rd
}
