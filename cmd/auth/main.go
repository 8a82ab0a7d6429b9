// Command auth runs the codegrant authorization-code server: it seeds the
// store on first start, serves the ops endpoints (/livez, /readyz, /metrics,
// /.well-known/jwks.json) and drains in-flight grants on SIGINT or SIGTERM.
//
// All configuration comes from the environment; see app.LoadConfig.
package main

import (
	"log"

	"github.com/aussiebroadwan/codegrant/internal/auth/app"
)

func main() {
	application, err := app.New(app.LoadConfig())
	if err != nil {
		log.Fatalf("codegrant: init: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("codegrant: %v", err)
	}
}
