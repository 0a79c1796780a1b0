package intent

import "VoiceBridge/pkg/response"

var (
	ErrUnknownTool        = response.NewError(400, "unknown tool")
	ErrInvalidRequestBody = response.NewError(400, "invalid request body")
)
