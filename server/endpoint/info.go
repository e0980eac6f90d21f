package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/localchat/version"
)

var startTime = time.Now()

// DetailsProvider adds service-specific fields to /info, such as the
// loaded model and its context size.
type DetailsProvider func() map[string]any

// Info reports build information, uptime and any extra details.
func Info(serviceName string, details DetailsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"service":   serviceName,
			"build":     version.Get(),
			"uptime":    time.Since(startTime).Round(time.Second).String(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if details != nil {
			for k, v := range details() {
				if _, reserved := body[k]; !reserved {
					body[k] = v
				}
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
