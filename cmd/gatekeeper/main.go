package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/activitymap"
	"github.com/goliatone/go-gatekeeper/drafts"
	"github.com/goliatone/go-gatekeeper/provider/local"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config  *AppConfig
	db      *bun.DB
	backend *local.Backend
	drafts  gatekeeper.DraftCache
	pool    *gatekeeper.Pool
	gate    *gatekeeper.HTTPGate
	srv     router.Server[*fiber.App]
	logger  *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("gatekeeper"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeSecureJSON(map[string]any{
		"addr":            cfg.GetAddr(),
		"dsn":             cfg.GetDSN(),
		"redis":           cfg.GetRedisAddr(),
		"magic_link_url":  cfg.GetMagicLinkURL(),
		"init_timeout":    cfg.GetInitTimeout().String(),
		"profile_timeout": cfg.GetProfileTimeout().String(),
	}))
	fmt.Println("============")

	ctx := context.Background()
	app := &App{config: cfg, logger: lgr}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithDrafts(ctx, app); err != nil {
		panic(err)
	}

	WithControllers(app)

	WithHTTPServer(app)

	go func() {
		if err := app.srv.Serve(cfg.GetAddr()); err != nil {
			app.GetLogger("app").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		app.GetLogger("app").Error("server shutdown", "error", err)
	}

	app.pool.Close()
	app.backend.Close()
	_ = app.db.Close()
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.GetDSN())
	if err != nil {
		return err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := local.CreateSchema(ctx, db); err != nil {
		return err
	}
	app.db = db

	key := app.config.GetSigningKey()
	if key == "" {
		app.GetLogger("app").Warn("GATE_SIGNING_KEY not set, using a development key")
		key = "gatekeeper-development-key"
	}

	sender := local.LogSender{Logger: app.GetLogger("mailer")}

	app.backend = local.New(db,
		local.WithSigningKey([]byte(key)),
		local.WithIssuer(app.config.GetIssuer()),
		local.WithTokenTTL(app.config.GetTokenTTL()),
		local.WithHashid(app.config.GetUseHashid()),
		local.WithMagicLinkURL(app.config.GetMagicLinkURL()),
		local.WithMagicLinkSender(sender),
		local.WithLogger(app.GetLogger("backend")),
	)

	return nil
}

func WithDrafts(ctx context.Context, app *App) error {
	addr := app.config.GetRedisAddr()
	if addr == "" {
		app.drafts = gatekeeper.NewMemoryDraftCache()
		return nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}

	app.drafts = drafts.NewRedisCache(client)
	return nil
}

func WithControllers(app *App) {
	cfg := app.config
	activityLogger := app.GetLogger("activity")
	activity := gatekeeper.ActivitySinkFunc(func(_ context.Context, ev gatekeeper.ActivityEvent) error {
		activityLogger.Info("activity", activitymap.Normalize(ev).Fields()...)
		return nil
	})

	factory := func(clientID string) *gatekeeper.Controller {
		return gatekeeper.NewController(
			app.backend.Client(clientID),
			app.backend.Records(),
			gatekeeper.WithInitTimeout(cfg.GetInitTimeout()),
			gatekeeper.WithProfileTimeout(cfg.GetProfileTimeout()),
			gatekeeper.WithSettleDelay(cfg.GetSettleDelay()),
			gatekeeper.WithDraftCache(app.drafts),
			gatekeeper.WithActivitySink(activity),
			gatekeeper.WithLogger(app.GetLogger("controller")),
		)
	}

	app.pool = gatekeeper.NewPool(factory,
		gatekeeper.WithPoolSize(cfg.GetPoolSize()),
		gatekeeper.WithPoolTTL(cfg.GetPoolTTL()),
		gatekeeper.WithPoolLogger(app.GetLogger("pool")),
	)

	app.gate = gatekeeper.NewHTTPGate(app.pool,
		gatekeeper.WithSecureCookies(cfg.GetSecureCookies()),
	).WithLogger(app.GetLogger("gate"))
}

func WithHTTPServer(app *App) {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
	})

	gatekeeper.RegisterGateRoutes(srv.Router(), app.gate,
		gatekeeper.WithGateControllerLogger(app.GetLogger("http")),
	)

	app.srv = srv
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
