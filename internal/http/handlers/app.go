package handlers

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"lotbuy/internal/config"
	applog "lotbuy/internal/log"
)

// NewApp builds the fiber app with the middleware stack and every route.
// mediaDir is served under /media when uploads are stored locally; pass ""
// otherwise.
func NewApp(d *Deps, cfg config.Config, views fiber.Views, mediaDir string) *fiber.App {
	app := fiber.New(fiber.Config{
		Views:        views,
		BodyLimit:    cfg.Server.BodyLimitMB << 20,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		ErrorHandler: ErrorHandler,
	})

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	if len(cfg.Server.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.Server.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		}))
	}
	app.Use(AttachUser(d.Auth))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit,
		Expiration: cfg.Server.RateWindow.Duration,
		Next: func(c *fiber.Ctx) bool {
			p := c.Path()
			return p == "/healthz" || strings.HasPrefix(p, "/media/")
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.global.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon", "kind": "rate_limited"})
		},
	}))

	if mediaDir != "" {
		app.Get("/media/*", serveMedia(mediaDir))
	}

	Mount(app, d)

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found", "kind": "not_found"})
	})
	return app
}

// Mount registers the API routes.
func Mount(app *fiber.App, d *Deps) {
	auth := RequireUser()
	api := app.Group("/api")

	api.Post("/auth/register", d.AuthHandler.Register)
	api.Post("/auth/login", limiter.New(limiter.Config{
		Max:        10,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many attempts. Please try again later.", "kind": "rate_limited"})
		},
	}), d.AuthHandler.Login)
	api.Post("/auth/logout", auth, d.AuthHandler.Logout)
	api.Get("/me", auth, d.AuthHandler.Me)
	api.Patch("/me", auth, d.AuthHandler.UpdateMe)
	api.Get("/dashboard", auth, d.DealHandler.Dashboard)

	// Lots are called requests on the wire.
	api.Get("/requests", d.LotHandler.Browse)
	api.Post("/requests", auth, d.LotHandler.Create)
	api.Get("/requests/:id", d.LotHandler.Get)
	api.Patch("/requests/:id", auth, d.LotHandler.Update)
	api.Delete("/requests/:id", auth, d.LotHandler.Delete)
	for _, action := range []string{"publish", "unpublish", "close"} {
		api.Post("/requests/:id/"+action, auth, d.LotHandler.Transition(action))
	}

	api.Get("/requests/:id/offers", d.OfferHandler.List)
	api.Get("/requests/:id/offers/compare", auth, d.OfferHandler.Compare)
	api.Post("/requests/:id/offers", auth, d.OfferHandler.Submit)

	api.Patch("/offers/:id/accept", auth, d.OfferHandler.Accept)
	api.Post("/offers/:id/accept", auth, d.OfferHandler.Accept)
	api.Patch("/offers/:id/decline", auth, d.OfferHandler.Decline)
	api.Patch("/offers/:id/withdraw", auth, d.OfferHandler.Withdraw)
	api.Delete("/offers/:id", auth, d.OfferHandler.Withdraw)
	api.Get("/offers/:id/messages", auth, d.OfferHandler.ListMessages)
	api.Post("/offers/:id/messages", auth, d.OfferHandler.PostMessage)

	api.Get("/deals", auth, d.DealHandler.List)
	api.Get("/deals/:id", auth, d.DealHandler.Get)
	api.Get("/deals/:id/history", auth, d.DealHandler.History)
	api.Patch("/deals/:id", auth, d.DealHandler.Update)
	app.Get("/deals/:id/receipt", auth, d.DealHandler.Receipt)

	api.Get("/notifications", auth, d.NotificationHandler.List)
	api.Patch("/notifications/:id/read", auth, d.NotificationHandler.MarkRead)
	api.Post("/notifications/:id/read", auth, d.NotificationHandler.MarkRead)
	api.Post("/notifications/read-all", auth, d.NotificationHandler.MarkAllRead)

	api.Post("/uploads", auth, d.UploadHandler.Upload)
}

// serveMedia serves uploaded files and blocks path traversal.
func serveMedia(dir string) fiber.Handler {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return func(c *fiber.Ctx) error {
		path := c.Params("*")
		rawLower := strings.ToLower(path)
		if strings.Contains(rawLower, "..") || strings.Contains(rawLower, "%2e") || strings.Contains(rawLower, "\x00") {
			applog.Security(c, "media.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		clean := filepath.Clean(path)
		if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			applog.Security(c, "media.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendFile(filepath.Join(dir, clean), true)
	}
}
