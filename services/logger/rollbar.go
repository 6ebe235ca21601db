package logsvc

import (
	"sort"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/user"
)

// RollbarLogger writes structured entries with zap and reports them to rollbar when enabled.
type RollbarLogger struct {
	zap     *zap.SugaredLogger
	rollbar bool
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewZap builds the process logger: JSON in QA/PROD, console otherwise.
func NewZap(conf *core.Config) (*zap.Logger, error) {
	var cfg zap.Config
	if conf.Debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build(zap.Fields(zap.String("app", conf.AppName), zap.String("env", conf.Env), zap.String("build", conf.Build)))
}

func NewRollbarLogger(zl *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{zap: zl.Sugar(), rollbar: conf.RollbarToken != ""}
}

// NewZapLogger never reports to rollbar.
func NewZapLogger(zl *zap.Logger) *RollbarLogger {
	return &RollbarLogger{zap: zl.Sugar()}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
	l.rollbar = enabled
}

func (l *RollbarLogger) Sync() {
	_ = l.zap.Sync()
	if l.rollbar {
		rollbar.Wait()
	}
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l *RollbarLogger) prepare(msg string, args []interface{}) (rollbarArgs, keysAndValues []interface{}) {
	var usr *user.User
	rollbarArgs = make([]interface{}, 0, len(args)+1)
	rollbarArgs = append(rollbarArgs, msg)
	for _, arg := range args {
		switch v := arg.(type) {
		case user.User:
			if usr == nil { // only set one User
				usr = &v
			}
		case error:
			rollbarArgs = append(rollbarArgs, v)
			keysAndValues = append(keysAndValues, "error", v)
		case map[string]interface{}:
			rollbarArgs = append(rollbarArgs, v)
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				keysAndValues = append(keysAndValues, k, v[k])
			}
		default:
			rollbarArgs = append(rollbarArgs, v)
			keysAndValues = append(keysAndValues, "extra", v)
		}
	}

	if usr != nil {
		keysAndValues = append(keysAndValues, "user_id", usr.ID, "username", usr.Username)
	}
	if l.rollbar {
		if usr != nil {
			rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
		} else {
			rollbar.ClearPerson()
		}
	}
	return rollbarArgs, keysAndValues
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	_, kv := l.prepare(msg, args)
	l.zap.Debugw(msg, kv...)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	_, kv := l.prepare(msg, args)
	l.zap.Infow(msg, kv...)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rArgs, kv := l.prepare(msg, args)
	if l.rollbar {
		rollbar.Warning(rArgs...)
	}
	l.zap.Warnw(msg, kv...)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rArgs, kv := l.prepare(msg, args)
	if l.rollbar {
		rollbar.Error(rArgs...)
	}
	l.zap.Errorw(msg, kv...)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rArgs, kv := l.prepare(msg, args)
	if l.rollbar {
		rollbar.Critical(rArgs...)
		rollbar.Wait()
	}
	l.zap.Fatalw(msg, kv...)
}
