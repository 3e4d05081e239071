package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tverberg/pitlane/internal/queue"
)

// respondErr maps a queue fault to its HTTP status and JSON body. Unknown
// errors are logged and surfaced as internal; the caller should re-poll.
func respondErr(c *gin.Context, err error) {
	if f, ok := queue.AsFault(err); ok {
		if f.Code == queue.CodeInternal {
			logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("api: store failure")
		}
		c.JSON(statusFor(f.Code), gin.H{"code": string(f.Code), "message": f.Message})
		return
	}
	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("api: unexpected failure")
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    string(queue.CodeInternal),
		"message": "internal error",
	})
}

func statusFor(code queue.Code) int {
	switch code {
	case queue.CodeNotFound:
		return http.StatusNotFound
	case queue.CodeConflict:
		return http.StatusConflict
	case queue.CodePrecondition:
		return http.StatusPreconditionFailed
	case queue.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": message})
}
