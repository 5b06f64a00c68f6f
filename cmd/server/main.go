package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/bootstrap"
)

func main() {
	cfg := bootstrap.LoadConfig()
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize application")
	}

	go func() {
		if err := app.Start(); err != nil {
			logrus.WithError(err).Fatal("Server exited unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Shutdown finished with errors")
	}
	logrus.Info("Server stopped")
}
