// Package shutdown runs registered close functions, most recent first, when
// the process receives a termination signal.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

type logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Debugf(template string, args ...interface{})
}

var ilog logger
var funcs []func() error

func Init(log logger) {
	ilog = log
	funcs = make([]func() error, 0)
}

// Register adds a close function. Functions run in reverse registration
// order, so dependents registered later close before what they depend on.
func Register(fn func() error) {
	funcs = append(funcs, fn)
}

// Listen blocks until SIGINT, SIGTERM, or SIGHUP, runs the registered close
// functions, and exits the process.
func Listen() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	ilog.Infof("Proxy started, press Ctrl+C to exit")
	sig := <-quit
	ilog.Warnf("Received exit signal: %v", sig)
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			ilog.Errorf("Close function failed: %v", err)
		}
	}
	ilog.Infof("Shutdown completed")
	os.Exit(0)
}
