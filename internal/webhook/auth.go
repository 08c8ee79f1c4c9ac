package webhook

import (
	"net/http"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
)

// applyAuth sets authentication headers on the outbound request. Custom
// headers are applied first so the typed scheme always wins the
// Authorization header.
func applyAuth(req *http.Request, auth company.AuthConfig) {
	for name, value := range auth.Headers {
		if name == "" {
			continue
		}
		req.Header.Set(name, value)
	}
	switch auth.Type {
	case company.AuthBearer:
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		}
	case company.AuthBasic:
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
	}
}
