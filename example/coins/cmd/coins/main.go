// Command coins totals the coins collected by each player in three partitions and
// exports the scores as Parquet.
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
