package dig_container

import (
	"context"
	"fmt"
	"io"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/wastewise/apps/api/echo"
	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/core/user"
	logsvc "github.com/trezcool/wastewise/services/logger"
	rediscache "github.com/trezcool/wastewise/storage/cache/redis"
	"github.com/trezcool/wastewise/storage/database"
	inmemdb "github.com/trezcool/wastewise/storage/database/inmem"
	sqlxrepos "github.com/trezcool/wastewise/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// StorageResult holds the repositories of the configured database engine.
type StorageResult struct {
	dig.Out
	Users          user.Repository
	Certifications certification.Repository
	Closer         io.Closer `name:"storage"`
}

type StorageCloserParam struct {
	dig.In
	Closer io.Closer `name:"storage"`
}

type ServerParams struct {
	dig.In
	Conf             *core.Config
	Logger           core.Logger
	UserSvc          user.ServiceInterface
	CertificationSvc certification.ServiceInterface
	Validate         *validator.Validate
	Translator       ut.Translator
}

func newZap(conf *core.Config) (*zap.Logger, error) {
	return logsvc.NewZap(conf)
}

func newLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newStorage(conf *core.Config, validate *validator.Validate, loggerParam DBLoggerParam) StorageResult {
	logger := loggerParam.Logger

	if conf.Database.Engine == database.EngineMemory {
		logger.Warn("using the in-memory database: data is lost on shutdown")
		db := inmemdb.Open()
		certRepo := inmemdb.NewCertificationRepository(db)

		// nothing persists: seed the certification types on every boot
		types, err := database.LoadCertificationTypes("")
		if err == nil {
			_, err = database.Seed(context.Background(), certRepo, validate, types)
		}
		if err != nil {
			logger.Fatal(fmt.Sprintf("seeding database: %v", err), err)
		}
		return StorageResult{
			Users:          inmemdb.NewUserRepository(db),
			Certifications: certRepo,
			Closer:         nopCloser{},
		}
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	logger.Info("database ready", map[string]interface{}{"engine": conf.Database.Engine})

	return StorageResult{
		Users:          sqlxrepos.NewUserRepository(db),
		Certifications: sqlxrepos.NewCertificationRepository(db),
		Closer:         db,
	}
}

// newTypeRepository puts the redis cache in front of the certification types when configured.
func newTypeRepository(conf *core.Config, repo certification.Repository, logger core.Logger) certification.TypeRepository {
	if conf.Redis.Addr == "" {
		return repo
	}
	client, err := rediscache.NewClient(conf)
	if err != nil {
		logger.Warn(fmt.Sprintf("redis unavailable, certification types are not cached: %v", err), err)
		return repo
	}
	return rediscache.NewTypeRepository(repo, client, conf.Redis.TTL, logger)
}

func newCertificationService(
	types certification.TypeRepository,
	repo certification.Repository,
	logger core.Logger,
) *certification.Service {
	return certification.NewService(types, repo, repo, logger)
}

func newValidate(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	certification.InitValidators(validate, translator)
	return validate
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:             p.Conf,
		Logger:           p.Logger,
		UserSvc:          p.UserSvc,
		CertificationSvc: p.CertificationSvc,
		Validate:         p.Validate,
		Translator:       p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newTypeRepository))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidate))
	must(c.Provide(user.NewService, dig.As(new(user.ServiceInterface))))
	must(c.Provide(newCertificationService, dig.As(new(certification.ServiceInterface))))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
