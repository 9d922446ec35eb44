package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/enrol/core"
	logsvc "github.com/trezcool/enrol/services/logger"
	"github.com/trezcool/enrol/storage"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(false)

	cli := commandLine{
		out:        os.Stdout,
		translator: core.NewTranslator(),
		log:        logger,
		migrate:    postgresMigrations(conf),
	}
	cli.validate = core.NewValidate(cli.translator)

	// migrate opens its own connection
	if len(os.Args) < 2 || os.Args[1] != "migrate" {
		store, closer, err := storage.OpenDocumentStore(context.Background(), conf, logger)
		if err != nil {
			logger.Fatal("opening document store", err)
		}
		defer func() { _ = closer.Close() }()
		cli.store = store
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("admin command failed: " + err.Error())
		}
		os.Exit(1)
	}
}
