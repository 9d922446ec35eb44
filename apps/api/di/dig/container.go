package dig_container

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/enrol/apps/api/echo"
	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/otp"
	"github.com/trezcool/enrol/core/submission"
	emailsvc "github.com/trezcool/enrol/services/email"
	logsvc "github.com/trezcool/enrol/services/logger"
	"github.com/trezcool/enrol/storage"
	"github.com/trezcool/enrol/storage/files"
	"github.com/trezcool/enrol/storage/otpstore"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// ClosersParam collects what must be closed once the server stopped.
	ClosersParam struct {
		dig.In
		Closers []io.Closer `group:"closers"`
	}

	storeResult struct {
		dig.Out
		Store  submission.StoreReader
		Closer io.Closer `group:"closers"`
	}

	uploaderResult struct {
		dig.Out
		Uploader files.Uploader
		Closer   io.Closer `group:"closers"`
	}

	codesResult struct {
		dig.Out
		Store  otp.Store
		Closer io.Closer `group:"closers"`
	}
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStore(conf *core.Config, loggerParam DBLoggerParam) storeResult {
	store, closer, err := storage.OpenDocumentStore(context.Background(), conf, loggerParam.Logger)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up %s database: %v", conf.Database.Engine, err), err)
	}
	return storeResult{Store: store, Closer: closer}
}

func newUploader(conf *core.Config, logger core.Logger) uploaderResult {
	uploader, closer, err := storage.OpenUploader(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up %s uploads: %v", conf.Storage.Backend, err), err)
	}
	return uploaderResult{Uploader: uploader, Closer: closer}
}

// newCodeStore keeps pending codes in redis when configured, in memory otherwise.
func newCodeStore(conf *core.Config) codesResult {
	if conf.Redis.Addr == "" {
		return codesResult{Store: otp.NewMemoryStore(), Closer: nopCloser{}}
	}
	rdb := otpstore.NewRedisClient(conf.Redis)
	return codesResult{Store: otpstore.NewRedisStore(rdb, ""), Closer: rdb}
}

func newCodeSender(store otp.Store, mailSvc core.EmailService, conf *core.Config) (onboarding.CodeSender, error) {
	return otp.NewService(store, mailSvc, conf.OTP)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	store submission.StoreReader,
	uploader files.Uploader,
	codes onboarding.CodeSender,
) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Store:      store,
		Uploader:   uploader,
		Codes:      codes,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newUploader))
	must(c.Provide(newCodeStore))
	must(c.Provide(newEmailService))
	must(c.Provide(newCodeSender))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidate))
	must(c.Provide(newServer))

	if os.Getenv("DIG_VISUALIZE") != "" {
		_ = dig.Visualize(c, os.Stdout)
	}

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
