package server

import (
	"time"

	"github.com/labstack/echo/v4"
)

// logRequests logs one line when a request arrives and one when it is
// answered, through the echo instance logger.
func logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		meth := c.Request().Method
		path := c.Request().URL.Path
		begin := time.Now()
		c.Logger().Debugf("< request %s %s", meth, path)

		err := next(c)

		c.Logger().Infof(
			"> response %s %s status=%d in %v error=%v",
			meth, path, c.Response().Status, time.Since(begin), err,
		)
		return err
	}
}
