package gateway

import (
	"context"
	"strings"

	"GateProject/logger"
	"GateProject/service/backend"
	"GateProject/tools/decode"
	"GateProject/tools/errs"
)

// IdentityVerifier validates the bearer credential presented at connection
// time by delegating to the backend identity-resolution action.
type IdentityVerifier struct {
	invoker backend.Invoker
}

func NewIdentityVerifier(invoker backend.Invoker) *IdentityVerifier {
	return &IdentityVerifier{invoker: invoker}
}

// Authenticate resolves the credential into an Identity or fails the
// handshake. The raw credential is never logged; the audit entry carries a
// truncated identity label only.
func (v *IdentityVerifier) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, errs.ErrAuth.WithDetail("missing credential")
	}
	res, err := v.invoker.Invoke(ctx, backend.ResolveAction,
		map[string]any{"token": credential},
		backend.Metadata{Service: "gateway"})
	if err != nil {
		return nil, errs.ErrAuth.WithDetail(errs.ClientMessage(err))
	}
	ident, err := identityFrom(res)
	if err != nil {
		return nil, err
	}
	logger.Infof("[auth] authenticated identity=%s", truncateLabel(ident.ID))
	return ident, nil
}

func identityFrom(res any) (*Identity, error) {
	switch t := res.(type) {
	case *Identity:
		if t != nil && t.ID != "" {
			return t, nil
		}
	case Identity:
		if t.ID != "" {
			return &t, nil
		}
	case map[string]any:
		ident, err := decode.DecodeMap[Identity](t)
		if err == nil && ident.ID != "" {
			return ident, nil
		}
	}
	return nil, errs.ErrAuth.WithDetail("resolver returned no identity")
}

func truncateLabel(s string) string {
	if len(s) > 8 {
		return s[:8] + "..."
	}
	return s
}
