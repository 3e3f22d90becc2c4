// Command stampede runs the order worker and the shop cache preheat, and
// exposes Prometheus metrics. The services are built with fx so an API layer
// can be added as one more module.
package main

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		Module,
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(runWorker, preheat, serveMetrics),
	)

	if err := app.Start(context.Background()); err != nil {
		os.Exit(1)
	}
	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		os.Exit(1)
	}
}
