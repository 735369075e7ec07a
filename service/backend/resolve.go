package backend

import (
	"context"

	"GateProject/tools/decode"
	"GateProject/tools/errs"
	"GateProject/tools/security"
)

// ResolveAction is the identity-resolution action the gateway calls during the
// connection handshake.
const ResolveAction = "user.resolveIdentity"

type resolvePayload struct {
	Token string `json:"token"`
}

// RegisterIdentityResolver installs the built-in resolveIdentity handler: it
// verifies an HMAC-signed bearer token and returns the identity profile from
// its claims. Deployments with a real user service replace this by
// registering their own handler under the same action name.
func RegisterIdentityResolver(r *Registry, secret []byte) {
	opts := security.DefaultOptions(secret)
	r.Register(ResolveAction, func(_ context.Context, payload any, _ Metadata) (any, error) {
		p, err := decode.DecodeMap[resolvePayload](decode.AsMap(payload))
		if err != nil || p.Token == "" {
			return nil, errs.ErrAuth.WithDetail("missing token")
		}
		claims, err := security.Verify(opts, p.Token)
		if err != nil {
			return nil, errs.ErrAuth.WithDetail(err.Error())
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return nil, errs.ErrAuth.WithDetail("token has no subject")
		}
		out := map[string]any{"id": sub}
		if name, ok := claims.MapClaims["name"].(string); ok {
			out["displayName"] = name
		}
		if avatar, ok := claims.MapClaims["avatar"].(string); ok {
			out["avatar"] = avatar
		}
		return out, nil
	})
}
