package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/swaptacular/swpt-apiproxy/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}

	if err := application.Start(); err != nil {
		logrus.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
