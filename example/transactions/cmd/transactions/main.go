// Command transactions computes the running balance of a transaction ledger and reports
// the totals by merchant when the final balance is positive, or by month otherwise.
package main

import (
	_ "embed"
	"os"

	"go.uber.org/fx"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

//go:embed resources/job.yaml
var embeddedJSL []byte

func main() {
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}
	fx.New(GetApplicationOptions(envFilePath)...).Run()
}
