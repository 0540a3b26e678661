package middleware

import (
	"net/http"

	"github.com/relaydesk/channel-server/internal/httputil"
)

// writeError renders err in the same {error, code} shape the handlers use.
func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}
