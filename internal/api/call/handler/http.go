package callHandler

import (
	callService "VoiceBridge/internal/api/call/service"
	"VoiceBridge/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type CallHandler struct {
	log         *logrus.Logger
	validator   *validator.Validate
	middleware  middleware.Middleware
	callService callService.ICallService
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	callService callService.ICallService,
) *CallHandler {
	return &CallHandler{
		log:         log,
		validator:   validate,
		middleware:  middleware,
		callService: callService,
	}
}

func (h *CallHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	calls := srv.Group("/calls")

	calls.Post("/start", h.middleware.NewRateLimiter, h.StartCall)
	calls.Get("/", h.ListCalls)
	calls.Get("/:call_id", h.GetCall)
	calls.Post("/:call_id/end", h.EndCall)
	calls.Get("/:call_id/transcript", h.GetTranscript)
	calls.Post("/:call_id/transcript", h.SaveTranscript)

	calls.Use("/:call_id/ws", wsMiddleware)
	calls.Get("/:call_id/ws", websocket.New(h.handleDeviceWebSocket))
}
