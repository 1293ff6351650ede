package guard

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"lms-platform/internal/auth"
	"lms-platform/internal/ratelimit"
	"lms-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

// Status maps an error kind to its HTTP status and machine code.
func Status(k auth.Kind) (int, string) {
	switch k {
	case auth.KindInvalidCredentials, auth.KindUnauthenticated:
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case auth.KindAccountDisabled:
		return http.StatusForbidden, "ACCOUNT_DISABLED"
	case auth.KindNotVerified:
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED"
	case auth.KindRateLimited:
		return http.StatusTooManyRequests, "TOO_MANY_REQUESTS"
	case auth.KindTokenExpired:
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case auth.KindTokenInvalid:
		return http.StatusUnauthorized, "TOKEN_INVALID"
	case auth.KindTokenRevoked:
		return http.StatusUnauthorized, "TOKEN_REVOKED"
	case auth.KindNoToken:
		return http.StatusUnauthorized, "NO_TOKEN"
	case auth.KindReuseDetected:
		return http.StatusUnauthorized, "REFRESH_REUSE_DETECTED"
	case auth.KindUserInactive:
		return http.StatusUnauthorized, "USER_INACTIVE"
	case auth.KindForbidden:
		return http.StatusForbidden, "FORBIDDEN"
	case auth.KindNodeInactive:
		return http.StatusForbidden, "NODE_INACTIVE"
	case auth.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case auth.KindValidation:
		return http.StatusBadRequest, "BAD_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// WriteError is the one place errors become HTTP responses. Untyped errors
// are logged and surfaced as a generic 500; production hides detail.
func WriteError(c *gin.Context, err error, production bool) {
	e := classify(err)
	status, code := Status(e.Kind)

	body := ErrorBody{Error: code, Message: e.Message, Fields: e.Fields}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).ErrorContext(c.Request.Context(), "request failed",
			"path", c.Request.URL.Path,
			"err", err,
		)
		_ = c.Error(err)
		body.Message = "Internal server error"
		if !production {
			body.Detail = err.Error()
		}
	} else if !production {
		body.Detail = e.Detail
	}

	if e.Kind == auth.KindRateLimited {
		c.Header("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(e.RetryAfter)))
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) *auth.Error {
	var ae *auth.Error
	if errors.As(err, &ae) {
		return ae
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[lowerFirst(fe.Field())] = fe.Tag()
		}
		return &auth.Error{Kind: auth.KindValidation, Message: "Invalid request body", Fields: fields, Err: err}
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &auth.Error{Kind: auth.KindValidation, Message: "Invalid request body", Err: err}
	}

	return &auth.Error{Kind: auth.KindInternal, Message: "Internal server error", Err: err}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
