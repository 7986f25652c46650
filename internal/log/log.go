package log

import (
	"os"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codeshop/internal/domain"
)

var base atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

// Init builds the process logger: JSON lines on stdout, optionally teed to file.
func Init(level, file string) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	closeFn := func() {}
	if file != "" {
		f, ferr := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if ferr != nil {
			return nil, closeFn, ferr
		}
		sinks = append(sinks, zapcore.AddSync(f))
		closeFn = func() { _ = f.Close() }
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.NewMultiWriteSyncer(sinks...), lvl)
	l := zap.New(core, zap.AddCaller())
	SetLogger(l)
	return l, func() { _ = l.Sync(); closeFn() }, nil
}

func SetLogger(l *zap.Logger) { base.Store(l) }

func L() *zap.Logger { return base.Load() }

func requestFields(c *fiber.Ctx) []zap.Field {
	if c == nil {
		return nil
	}
	fs := []zap.Field{
		zap.String("ip", c.IP()),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
	}
	if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
		fs = append(fs, zap.String("req_id", rid))
	}
	if u, ok := c.Locals("user").(*domain.User); ok && u != nil {
		fs = append(fs, zap.String("user_id", u.ID))
	}
	return fs
}

func write(lvl zapcore.Level, kind string, c *fiber.Ctx, action string, err error, fields map[string]any) {
	fs := append(requestFields(c), zap.String("kind", kind), zap.String("action", action))
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	if len(fields) > 0 {
		fs = append(fs, zap.Any("fields", fields))
	}
	if ce := L().Check(lvl, action); ce != nil {
		ce.Write(fs...)
	}
}

func Info(c *fiber.Ctx, action string, fields map[string]any) {
	write(zapcore.InfoLevel, "info", c, action, nil, fields)
}
func Audit(c *fiber.Ctx, action string, fields map[string]any) {
	write(zapcore.InfoLevel, "audit", c, action, nil, fields)
}
func Security(c *fiber.Ctx, action string, fields map[string]any) {
	write(zapcore.WarnLevel, "security", c, action, nil, fields)
}
func Error(c *fiber.Ctx, action string, err error, fields map[string]any) {
	write(zapcore.ErrorLevel, "error", c, action, err, fields)
}
