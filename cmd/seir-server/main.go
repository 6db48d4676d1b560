// Command seir-server serves the simulation API, the job queue and the
// progress websocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"covidseir/internal/app"
)

func main() {
	configFile := flag.String("config", "", "YAML configuration file (default: $SEIR_CONFIG_FILE or ./config.yaml)")
	flag.Parse()

	application, err := app.NewApplication(*configFile)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
