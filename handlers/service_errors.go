package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/request-shield/services"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	status, message := statusFor(err)

	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		// details of internal failures stay in the log
		details = nil
	default:
		logger.Debug("handled service error",
			zap.Int("status", status),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
	}

	if werr := utils.WriteError(w, status, message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}

func statusFor(err error) (int, string) {
	message := err.Error()
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	switch services.GetErrorType(err) {
	case services.ErrorTypeNotFound:
		return http.StatusNotFound, message
	case services.ErrorTypeValidation, services.ErrorTypeInvalidURL:
		return http.StatusBadRequest, message
	case services.ErrorTypeUnauthorized:
		return http.StatusUnauthorized, message
	case services.ErrorTypeForbidden, services.ErrorTypeEgressBlocked, services.ErrorTypeRedirectBlocked:
		return http.StatusForbidden, message
	case services.ErrorTypeRateLimit:
		return http.StatusTooManyRequests, message
	case services.ErrorTypeExternal, services.ErrorTypeDNSFailure, services.ErrorTypeNetwork:
		return http.StatusBadGateway, message
	case services.ErrorTypeInternal:
		return http.StatusInternalServerError, "An internal error occurred"
	}
	return http.StatusInternalServerError, "An unexpected error occurred"
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		details := make(map[string]interface{})
		for k, v := range utils.GetValidationFields(err) {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
