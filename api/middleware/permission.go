package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/bizledger-backend/api/responses"
	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
)

// RequirePermission admits the request only when the identity may perform
// action on module, scoped to the store selected by StoreContext if any.
func RequirePermission(resolver *permissions.Resolver, module enums.Module, action enums.Action, logg *logger.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		resolver = permissions.NewResolver()
	}
	denied := fmt.Sprintf("permission denied: %s.%s", module, action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := IdentityFromContext(ctx)
			if identity == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !resolver.Check(identity.Subject, module, action, StoreIDFromContext(ctx)) {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"module": module.String(),
						"action": action.String(),
					}), "permission denied")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeForbidden, denied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
