// @title                       brokercrm lead state API
// @version                     1.0
// @description                 Desk-scoped lead states, transitions and state history.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
