//go:build !embed

package frontend

import "net/http"

// Handler returns nil when the binary was built without embedded assets.
func Handler() http.Handler { return nil }
