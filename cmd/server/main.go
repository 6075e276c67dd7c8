// cmd/server/main.go
package main

import (
	"os"

	_ "comlink-service/docs"
)

// @title Comlink Service API
// @version 1.0.0
// @description Serial device connection manager: port discovery, auto-connect with identification handshake and a data channel to the identified device

// @contact.name Comlink Service API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8085
// @BasePath /api/v1
func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
