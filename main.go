package main

import (
	"context"
	"time"

	"github.com/shandysiswandi/pulsarbite/internal/app"
)

func main() {
	application := app.New()    // Initialize the application
	wait := application.Start() // Start the consumers and the HTTP server
	<-wait                      // Wait for the application to receive a termination signal
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	application.Stop(ctx) // Stop the application gracefully
}
