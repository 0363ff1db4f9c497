package httpapi

import (
	"github.com/gin-gonic/gin"

	svcerrors "github.com/elementstore/core/infrastructure/errors"
)

// writeError maps any error to its HTTP response, using the ServiceError
// taxonomy when available and falling back to a generic 500 otherwise
// (spec §7).
func writeError(c *gin.Context, err error) {
	if se, ok := svcerrors.As(err); ok {
		c.JSON(se.HTTPStatus, se)
		return
	}
	c.JSON(500, svcerrors.Wrap(svcerrors.CodeStorageError, "internal error", err))
}
