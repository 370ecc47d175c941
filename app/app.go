package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/route"
)

type App struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`
	Router *route.Router `inject:""`

	// Version is the build ID so the running process can report what
	// it is
	Version string `inject:"version"`
}

// Start on the App object blocks until the relay is shutting down.
// After Start exits, Stop is called on App and then on its
// dependencies, and the program exits.
func (a *App) Start() error {
	a.Logger.Infof("statproxy %s starting", a.Version)

	sigsToExit := make(chan os.Signal, 1)
	signal.Notify(sigsToExit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigsToExit

	a.Logger.Infof("caught signal %v, shutting down", sig)
	return nil
}

func (a *App) Stop() error {
	a.Logger.Debugf("App stopped")
	return nil
}
