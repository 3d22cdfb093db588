package api

import (
	"errors"
	"net/http"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Error *models.RouterError `json:"error"`
}

// StatusFor maps a stable code to its HTTP status
func StatusFor(code models.Code) int {
	switch code {
	case models.CodeInvalidInput:
		return http.StatusBadRequest
	case models.CodeRouteNotFound, models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeRouteNotScoped, models.CodeBudgetExceeded, models.CodeRateLimited, models.CodeScopeDenied:
		return http.StatusForbidden
	case models.CodeReplayDetected, models.CodeAlreadyExists:
		return http.StatusConflict
	case models.CodeNoFacilitatorAvailable, models.CodeVerificationTimeout, models.CodeOracleUnavailable:
		return http.StatusServiceUnavailable
	}
	if code.IsVerificationFailure() {
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// verifyErrorBody keeps the shared error object and adds the verify
// contract fields so clients can branch on denyCode alone.
type verifyErrorBody struct {
	Verified bool                `json:"verified"`
	DenyCode models.Code         `json:"denyCode"`
	Error    *models.RouterError `json:"error"`
}

// writeError renders {error:{code,message,details}}. Errors without a code
// are logged and reported as INTERNAL.
func writeError(c *gin.Context, err error) {
	rerr := routerError(c, err)
	c.AbortWithStatusJSON(StatusFor(rerr.Code), errorBody{Error: rerr})
}

// writeVerifyError renders {verified:false, denyCode, error:{...}}
func writeVerifyError(c *gin.Context, err error) {
	rerr := routerError(c, err)
	c.AbortWithStatusJSON(StatusFor(rerr.Code), verifyErrorBody{
		DenyCode: rerr.Code,
		Error:    rerr,
	})
}

func routerError(c *gin.Context, err error) *models.RouterError {
	var rerr *models.RouterError
	if !errors.As(err, &rerr) {
		util.GetLogger().Error("Unhandled request error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		rerr = models.NewRouterError(models.CodeInternal, "internal error")
	}
	return rerr
}
