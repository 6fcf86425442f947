package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/bizledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/google/uuid"
)

// StoreHeader selects the store a request operates on.
const StoreHeader = "X-Store-Id"

// StoreContext binds the X-Store-Id header to the request. The header is
// optional for roles that see every store and required otherwise; a store
// outside the identity's accessible set is refused.
func StoreContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			raw := strings.TrimSpace(r.Header.Get(StoreHeader))
			if raw == "" {
				if identity.Role().HasAllStores() {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
				return
			}

			storeID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store id"))
				return
			}
			if !identity.HasStore(storeID) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store not accessible"))
				return
			}

			ctx := WithStoreID(r.Context(), storeID)
			if logg != nil {
				ctx = logg.WithStoreID(ctx, storeID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
