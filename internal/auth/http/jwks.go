package http

import (
	"net/http"

	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
)

// JWKSHandler publishes the public signing keys so resource servers can
// verify access and ID tokens.
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, keys.PublicJWKS())
	}
}
