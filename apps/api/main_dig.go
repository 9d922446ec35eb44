package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"

	dig_container "github.com/trezcool/enrol/apps/api/di/dig"
	echoapi "github.com/trezcool/enrol/apps/api/echo"
	"github.com/trezcool/enrol/core"
)

func startWithDig() {
	c := dig_container.New()
	must(c.Invoke(run))
}

// run serves the API until it fails or a shutdown signal arrives, then closes the collaborators.
func run(
	conf *core.Config,
	logger core.Logger,
	dbLoggerParam dig_container.DBLoggerParam,
	closersParam dig_container.ClosersParam,
	server echoapi.Server,
) {
	logger.Info(fmt.Sprintf("Application initializing : version %q (%s, %s database, %s uploads)",
		conf.Build, conf.Env, conf.Database.Engine, conf.Storage.Backend))
	defer closeAll(dbLoggerParam.Logger, closersParam.Closers)
	defer logger.Info("Application stopped")

	serveDebug(conf, logger)

	go func() {
		logger.Info("API listening on " + conf.Server.Address())
		server.Start()
	}()

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)
	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		shutdown(conf, logger, server)
	}
}

// serveDebug exposes /debug/pprof and /debug/vars on the debug host.
func serveDebug(conf *core.Config, logger core.Logger) {
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()
}

// shutdown gives outstanding requests until the shutdown timeout, then closes the listener.
func shutdown(conf *core.Config, logger core.Logger, server echoapi.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		if err = server.Close(); err != nil {
			logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
		}
	}
}

func closeAll(logger core.Logger, closers []io.Closer) {
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			logger.Error(fmt.Sprintf("failed to close: %v", err), err)
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
