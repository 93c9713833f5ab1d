package api

import "net/http"

type pushKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// pushPublicKeyHandler handles GET /api/v1/push/public-key. The key is the
// browser's applicationServerKey and is safe to expose unauthenticated.
func (srv *Server) pushPublicKeyHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, pushKeyResponse{PublicKey: srv.env.PushPublicKey()})
}
