package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/errcode"
	"github.com/KOMKZ/habitcache/logger"
)

// Response is the envelope of every admin reply.
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

func okJSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Msg: "success", Data: data})
}

// handleError answers with the LayeredError's status, code and message.
// Anything else is a 500 whose detail stays in the log.
func handleError(c *gin.Context, log *logger.CtxZapLogger, err error) {
	ctx := c.Request.Context()
	if le, ok := errcode.As(err); ok {
		if le.HTTPStatus() >= http.StatusInternalServerError {
			log.ErrorCtx(ctx, "admin request failed", zap.Int("error_code", le.Code()), zap.Error(err))
		}
		c.JSON(le.HTTPStatus(), Response{Code: le.Code(), Msg: le.Message(), Data: le.Data()})
		return
	}
	log.ErrorCtx(ctx, "admin request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Msg: "internal error"})
}

func noRouteHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{
		Code: http.StatusNotFound,
		Msg:  "route not found: " + c.Request.Method + " " + c.Request.URL.Path,
	})
}

func noMethodHandler(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, Response{
		Code: http.StatusMethodNotAllowed,
		Msg:  "method not allowed: " + c.Request.Method + " " + c.Request.URL.Path,
	})
}
