package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"rssagg/catalog"
	"rssagg/db"
	"rssagg/ingest"
	"rssagg/models"
	"rssagg/quota"
)

const (
	OwnerHeader    = "X-Owner-ID"
	GuestKeyCookie = "guest_key"
)

// Sweeps queues background refreshes
type Sweeps interface {
	QueueOwnerSweep(owner string) <-chan singleflight.Result
	QueueTargetedSweep(ids []int64) <-chan singleflight.Result
}

// SourceStore loads and creates sources
type SourceStore interface {
	GetSource(ctx context.Context, id int64) (models.Source, error)
	CreateSource(ctx context.Context, src models.Source) (models.Source, error)
}

type ServerConfig struct {
	Catalog  *catalog.Service
	Gate     *quota.Gate
	Sweeps   Sweeps
	Sources  SourceStore
	Resolver ingest.LocatorResolver

	// Allowed CORS origins, comma separated
	CorsOrigin string

	// Health reports whether the storage is reachable
	Health func(ctx context.Context) error
}

// Returns a fiber.App serving the read API, refresh triggers and metrics
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"method":     c.Method(),
			"route":      c.Route().Path,
			"latency":    time.Since(start),
			"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.CorsOrigin,
		AllowHeaders: "Content-Type, " + OwnerHeader,
	}))

	// The public source list changes rarely
	app.Use("/api/sources/public", cache.New(cache.Config{
		Expiration: time.Minute,
	}))

	h := &handlers{config: config}

	app.Get("/healthz", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/posts", h.listPosts)
	api.Get("/sources/public", h.publicSources)
	api.Post("/sources", h.createSource)
	api.Post("/sources/:id/refresh", h.refreshSource)
	api.Post("/refresh", h.refreshOwner)

	return app
}

type handlers struct {
	config *ServerConfig
}

func (h *handlers) health(c *fiber.Ctx) error {
	if h.config.Health != nil {
		if err := h.config.Health(c.UserContext()); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Health check failed")
			return c.Status(fiber.StatusServiceUnavailable).SendString("unavailable")
		}
	}
	return c.SendString("ok")
}

func (h *handlers) listPosts(c *fiber.Ctx) error {
	owner := strings.TrimSpace(c.Get(OwnerHeader))
	req := catalog.ListRequest{
		Owner:  owner,
		Scope:  catalog.NormalizeScope(c.Query("feed")),
		Search: c.Query("search"),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", catalog.DefaultLimit),
	}

	if owner == "" {
		// Unknown scopes are rejected before the guest is charged
		if err := h.config.Catalog.CheckScope(c.UserContext(), owner, req.Scope); err != nil {
			return err
		}
		fingerprint := quota.Fingerprint(h.guestKey(c), c.IP(), c.Get(fiber.HeaderUserAgent))
		result := h.config.Gate.CheckAndConsume(c.UserContext(), fingerprint, req.Scope)
		req.Guest = &result
	}

	resp, err := h.config.Catalog.List(c.UserContext(), req)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.JSON(resp)
}

// guestKey returns the caller's guest cookie, issuing a new one when missing
func (h *handlers) guestKey(c *fiber.Ctx) string {
	if key := c.Cookies(GuestKeyCookie); key != "" {
		return key
	}
	key := uuid.New().String()
	c.Cookie(&fiber.Cookie{
		Name:     GuestKeyCookie,
		Value:    key,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		MaxAge:   int(h.config.Gate.Limits().Window / time.Second),
	})
	return key
}

func (h *handlers) publicSources(c *fiber.Ctx) error {
	sources, err := h.config.Catalog.PublicSources(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(sources)
}

type createSourceRequest struct {
	Slug         string               `json:"slug"`
	Title        string               `json:"title"`
	Kind         models.SourceKind    `json:"kind"`
	Locator      string               `json:"locator"`
	ScrapeConfig *models.ScrapeConfig `json:"scrapeConfig"`
	DisplayOrder int                  `json:"displayOrder"`
}

func (h *handlers) createSource(c *fiber.Ctx) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	var body createSourceRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	src, err := ingest.PrepareSource(c.UserContext(), h.config.Resolver, models.Source{
		Slug:         body.Slug,
		Title:        body.Title,
		Kind:         body.Kind,
		Locator:      body.Locator,
		ScrapeConfig: body.ScrapeConfig,
		Enabled:      true,
		DisplayOrder: body.DisplayOrder,
		Owner:        owner,
	})
	if err != nil {
		return err
	}

	created, err := h.config.Sources.CreateSource(c.UserContext(), src)
	if err != nil {
		return err
	}
	h.config.Sweeps.QueueTargetedSweep([]int64{created.Id})

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *handlers) refreshSource(c *fiber.Ctx) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid source id")
	}

	src, err := h.config.Sources.GetSource(c.UserContext(), int64(id))
	if err != nil {
		return err
	}
	if !src.Shared() && src.Owner != owner {
		return fiber.NewError(fiber.StatusNotFound, "source not found")
	}

	h.config.Sweeps.QueueTargetedSweep([]int64{src.Id})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "sourceId": src.Id})
}

func (h *handlers) refreshOwner(c *fiber.Ctx) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}
	h.config.Sweeps.QueueOwnerSweep(owner)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

func requireOwner(c *fiber.Ctx) (string, error) {
	owner := strings.TrimSpace(c.Get(OwnerHeader))
	if owner == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "owner required")
	}
	return owner, nil
}

// errorHandler maps domain errors onto status codes
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status, message = fe.Code, fe.Message
	case errors.Is(err, catalog.ErrUnknownScope), db.IsNotFound(err):
		status, message = fiber.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInvalidSource):
		status, message = fiber.StatusBadRequest, err.Error()
	case models.KindOf(err) == models.FailureResolution:
		status, message = fiber.StatusUnprocessableEntity, err.Error()
	}

	if status >= fiber.StatusInternalServerError {
		log.WithFields(log.Fields{
			"route": c.Route().Path,
			"error": err,
		}).Error("Request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}
