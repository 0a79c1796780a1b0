package callHandler

import (
	"VoiceBridge/internal/api/call"
	"VoiceBridge/internal/entity"
	contextPkg "VoiceBridge/pkg/context"
	"VoiceBridge/pkg/handlerUtil"
	"VoiceBridge/pkg/log"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"
)

func (h *CallHandler) StartCall(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 20*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing start call request")

	var req call.StartCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, call.ErrInvalidRequestBody, ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	res, err := h.callService.StartCall(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "start_call")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusCreated, res)
	}
}

func (h *CallHandler) GetCall(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	callID := ctx.Params("call_id")

	res, state, err := h.callService.GetCall(c, callID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_call")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, toCallResponse(res, state))
	}
}

func (h *CallHandler) ListCalls(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	var query call.ListCallsQuery
	if err := ctx.QueryParser(&query); err != nil {
		return errHandler.Handle(ctx, requestID, call.ErrInvalidQuery, ctx.Path(), "parse_query")
	}

	if err := h.validator.Struct(query); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	calls, total, err := h.callService.ListCalls(c, query)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "list_calls")
	}

	res := call.ListCallsResponse{
		Calls: make([]call.CallResponse, 0, len(calls)),
		Total: total,
	}
	for _, item := range calls {
		res.Calls = append(res.Calls, toCallResponse(item, entity.StateIdle))
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, res)
	}
}

func (h *CallHandler) EndCall(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	callID := ctx.Params("call_id")

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"call_id":    callID,
	}).Info("Ending call on request")

	res, err := h.callService.EndCall(c, callID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "end_call")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, toCallResponse(res, entity.StateIdle))
	}
}

func (h *CallHandler) GetTranscript(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	callID := ctx.Params("call_id")

	entries, archiveURL, err := h.callService.GetTranscript(c, callID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_transcript")
	}

	res := call.TranscriptResponse{
		CallID:      callID,
		Transcripts: make([]call.TranscriptItem, 0, len(entries)),
		ArchiveURL:  archiveURL,
	}
	for _, entry := range entries {
		res.Transcripts = append(res.Transcripts, call.TranscriptItem{
			Speaker:   entry.Speaker,
			Text:      entry.Text,
			Timestamp: entry.CreatedAt.Format(time.RFC3339),
		})
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, res)
	}
}

func (h *CallHandler) SaveTranscript(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	callID := ctx.Params("call_id")

	var req call.SaveTranscriptRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, call.ErrInvalidRequestBody, ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	entry, err := h.callService.SaveTranscript(c, callID, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "save_transcript")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusCreated, call.SaveTranscriptResponse{
			ID:     entry.ID,
			Status: "saved",
		})
	}
}

// toCallResponse omits the session state when no bridge reported one.
func toCallResponse(c entity.Call, state entity.ConnectionState) call.CallResponse {
	res := call.CallResponse{
		ID:               c.ID,
		OrganizationID:   c.OrganizationID,
		SessionID:        c.SessionID,
		Status:           c.Status,
		Escalated:        c.Escalated,
		EscalationReason: c.EscalationReason,
		Urgency:          c.Urgency,
		IntakeData:       c.IntakeData,
		ErrorMessage:     c.ErrorMessage,
		StartedAt:        c.StartedAt.Format(time.RFC3339),
	}
	if state != entity.StateIdle {
		res.SessionState = state.String()
	}
	if c.EndedAt != nil {
		res.EndedAt = c.EndedAt.Format(time.RFC3339)
	}
	return res
}
