package intentHandler

import (
	intentService "VoiceBridge/internal/api/intent/service"
	"VoiceBridge/internal/middleware"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type IntentHandler struct {
	log           *logrus.Logger
	validator     *validator.Validate
	middleware    middleware.Middleware
	intentService intentService.IIntentService

	executeTimeout time.Duration
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	intentService intentService.IIntentService,
) *IntentHandler {
	return &IntentHandler{
		log:            log,
		validator:      validate,
		middleware:     middleware,
		intentService:  intentService,
		executeTimeout: 60 * time.Second,
	}
}

func (h *IntentHandler) Start(srv fiber.Router) {
	intents := srv.Group("/execute-intent")

	intents.Post("/", h.middleware.NewRateLimiter, h.ExecuteIntent)
	intents.Get("/stats", h.GetStats)
}
