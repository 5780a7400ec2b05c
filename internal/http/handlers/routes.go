package handlers

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "secondhand/internal/log"
	"secondhand/internal/metrics"
)

type AppOptions struct {
	// AccessLog receives one line per request; nil disables it.
	AccessLog io.Writer
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

func NewApp(d *Deps, opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    1 << 20,
	})

	app.Use(requestid.New())
	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{Output: opts.AccessLog}))
	}
	app.Use(helmet.New())
	app.Use(metrics.Middleware())
	if opts.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimit,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				p := c.Path()
				return p == "/healthz" || p == "/metrics"
			},
			LimitReached: func(c *fiber.Ctx) error {
				applog.Security(c, "rate.api.hit", nil)
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
			},
		}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	user := RequireUser(d.AuthSvc)

	api.Post("/auth/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many attempts, please try again later"})
		},
	}), d.AuthHandler.Login)
	api.Post("/auth/register", limiter.New(limiter.Config{Max: 10, Expiration: time.Hour}), d.AuthHandler.Register)
	api.Post("/auth/logout", d.AuthHandler.Logout)

	api.Get("/products", user, d.ProductHandler.Mine)
	api.Post("/products", user, d.ProductHandler.Create)
	api.Get("/products/:id", user, d.ProductHandler.Get)
	api.Post("/products/:id/publish", user, d.ProductHandler.Publish)
	api.Post("/products/:id/unpublish", user, d.ProductHandler.Unpublish)
	api.Delete("/products/:id", user, d.ProductHandler.Delete)

	api.Post("/queue/:productId", user, d.QueueHandler.Join)
	api.Delete("/queue/:productId", user, d.QueueHandler.Leave)
	api.Get("/queue/:productId", user, d.QueueHandler.Position)
	api.Get("/positions", user, d.QueueHandler.All)

	api.Get("/wantlist", user, d.WantListHandler.Active)
	api.Delete("/wantlist/items/:itemId", user, d.WantListHandler.RemoveItem)
	api.Post("/wantlists/:id/complete", user, d.WantListHandler.Complete)
	api.Post("/wantlists/:id/cancel", user, d.WantListHandler.Cancel)

	admin := RequireAdmin()
	api.Post("/admin/sweep", user, admin, d.AdminHandler.Sweep)
	api.Get("/admin/outbox", user, admin, d.AdminHandler.Outbox)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})
	return app
}
