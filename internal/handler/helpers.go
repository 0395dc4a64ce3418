package handler

import (
	"errors"
	"net/http"
	"reflect"

	"registerhub/internal/apierror"
	"registerhub/internal/middleware"
	"registerhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails; the caller
// should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode("invalid_json", "invalid JSON: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

// bindQuery is bindAndValidate for query strings.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode("invalid_query", "invalid query: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

func validateStruct(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, apierror.WithCode("validation_error", err.Error()))
			return false
		}
		fields := make(map[string]string)
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// paramID parses a uuid path parameter, writing 400 on failure.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode("invalid_id", "invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// callerFrom builds the service caller from the validated token. JWTAuth has
// already run, so a malformed id here means a token we did not issue.
func callerFrom(c *gin.Context) (service.Caller, bool) {
	claims := middleware.GetClaims(c)
	uid, err1 := uuid.Parse(claims.UserID)
	bid, err2 := uuid.Parse(claims.BusinessID)
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.WithCode("invalid_token", "invalid or expired token"))
		return service.Caller{}, false
	}
	return service.Caller{UserID: uid, BusinessID: bid, DisplayName: claims.DisplayName, Role: claims.Role}, true
}

// writeError maps domain errors to their status and code. Anything unknown is
// handed to middleware.ErrorHandler, which answers 500 without details.
func writeError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	if code == "" {
		_ = c.Error(err)
		return
	}
	c.JSON(statusFor(err), apierror.WithCode(code, err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrRegisterNotFound), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotSessionOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusConflict
	}
}
