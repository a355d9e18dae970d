package main

import (
	"os"
	"os/signal"
	"syscall"

	"bizagents/internal/bootstrap"
)

func main() {
	c := bootstrap.NewContainer()
	c.MustInit()

	if err := c.Start(); err != nil {
		c.Log.Errorf("Failed to start: %v", err)
		c.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(c)
	c.Shutdown()
}

// waitForShutdown blocks until SIGINT/SIGTERM or a fatal component error
func waitForShutdown(c *bootstrap.Container) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		c.Log.Infow("Received shutdown signal", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Application context canceled, shutting down")
	}
}
