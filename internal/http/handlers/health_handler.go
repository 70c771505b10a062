// Health HTTP handler.
//
// Reports which of the GH_* configuration values are present without
// revealing the token, so a misconfigured deployment can be diagnosed from a
// browser. Purely derived from process configuration; never touches the
// document store.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse reports configuration presence. Preview echoes the
// non-secret values so typos and stray whitespace are visible; the token is
// never included.
type HealthResponse struct {
	OK      bool           `json:"ok"`
	Defined []string       `json:"defined"`
	Missing []string       `json:"missing"`
	Preview map[string]any `json:"preview"`
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	missing := h.gh.Missing()
	defined := h.gh.Defined()
	if defined == nil {
		defined = []string{}
	}
	if missing == nil {
		missing = []string{}
	}

	ok(c, http.StatusOK, HealthResponse{
		OK:      len(missing) == 0,
		Defined: defined,
		Missing: missing,
		Preview: map[string]any{
			"GH_OWNER":  orNil(h.gh.Owner),
			"GH_REPO":   orNil(h.gh.Repo),
			"GH_PATH":   orNil(h.gh.Path),
			"GH_BRANCH": orNil(h.gh.Branch),
		},
	})
}

// orNil maps an unset value to JSON null, mirroring what clients already
// expect from the previous deployment of this endpoint.
func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
