package consts

type ctxKey string

const (
	// context keys
	IdentityCtxKey    ctxKey = "identity"
	TenantCtxKey      ctxKey = "tenant"
	GateContextCtxKey ctxKey = "gate-context"

	// audit
	EventSourceComponent = "edugate-gateway"
)
