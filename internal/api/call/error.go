package call

import "VoiceBridge/pkg/response"

var (
	ErrCallNotFound          = response.NewError(404, "call not found")
	ErrOrganizationNotFound  = response.NewError(404, "organization not found")
	ErrCallNotActive         = response.NewError(409, "call is not active")
	ErrDeviceAlreadyAttached = response.NewError(409, "a device is already attached to this call")
	ErrSessionExpired        = response.NewError(410, "realtime session credential has expired")
	ErrProvisioningFailed    = response.NewError(502, "failed to provision realtime session")
	ErrInvalidRequestBody    = response.NewError(400, "invalid request body")
	ErrInvalidQuery          = response.NewError(400, "invalid query parameters")
)
