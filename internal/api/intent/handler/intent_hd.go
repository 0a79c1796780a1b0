package intentHandler

import (
	"VoiceBridge/internal/api/intent"
	"VoiceBridge/internal/entity"
	contextPkg "VoiceBridge/pkg/context"
	"VoiceBridge/pkg/handlerUtil"
	"VoiceBridge/pkg/log"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"
)

var outcomeStatusCodes = map[entity.OutcomeStatus]int{
	entity.OutcomeSuccess:            fiber.StatusOK,
	entity.OutcomeValidationRejected: fiber.StatusUnprocessableEntity,
	entity.OutcomeDispatchFailed:     fiber.StatusBadGateway,
}

// ExecuteIntent runs one tool invocation through the same pipeline the
// live call bridge uses.
func (h *IntentHandler) ExecuteIntent(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), h.executeTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing execute intent request")

	var req intent.ExecuteIntentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, intent.ErrInvalidRequestBody, ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	kind := entity.ParseToolKind(req.ToolName)
	if kind == entity.ToolUnknown {
		return errHandler.Handle(ctx, requestID, intent.ErrUnknownTool, ctx.Path(), "execute_intent")
	}

	args := req.ToolArgs
	if args == nil {
		args = map[string]interface{}{}
	}

	inv := &entity.ToolInvocation{
		Kind:          kind,
		Name:          req.ToolName,
		CorrelationID: req.CorrelationID,
		CallID:        req.CallID,
		RawArguments:  args,
	}

	// Dispatch outlives the request deadline, so the outcome is reported even
	// when c has expired in the meantime.
	outcome := h.intentService.Handle(c, inv)

	return errHandler.HandleSuccess(ctx, outcomeStatusCodes[outcome.Status], intent.ExecuteIntentResponse{
		Outcome:    outcome,
		ToolResult: outcome.ToolResult(),
	})
}

func (h *IntentHandler) GetStats(ctx *fiber.Ctx) error {
	errHandler := handlerUtil.New(h.log)
	return errHandler.HandleSuccess(ctx, fiber.StatusOK, h.intentService.Stats())
}
