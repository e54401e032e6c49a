package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/danielpatrickdp/model-gate/internal/inference"
)

// #region wire-types
type predictRequest struct {
	Features []any `json:"features"`
}

type predictResponse struct {
	Prediction int      `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// #endregion wire-types

func (s *Server) registerRoutes() {
	s.echo.POST("/predict", s.predict)
	s.echo.GET("/healthz", healthz)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
}

// #region predict
func (s *Server) predict(c echo.Context) (err error) {
	start := time.Now()
	s.metrics.RequestReceived()

	defer func() {
		if r := recover(); r != nil {
			c.Logger().Errorf("predict panicked: %v", r)
			s.metrics.RequestFailed()
			err = c.JSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	var req predictRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
	}
	if req.Features == nil {
		return s.fail(c, http.StatusBadRequest, fmt.Sprintf("JSON must include 'features' (%d-length list).", s.inputDim))
	}

	features, err := inference.CoerceFeatures(req.Features)
	if err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}

	pred, err := s.engine.Predict(features, s.inputDim)
	if err != nil {
		var ve *inference.ValidationError
		if errors.As(err, &ve) {
			return s.fail(c, http.StatusBadRequest, ve.Error())
		}
		c.Logger().Errorf("predict: %v", err)
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}

	s.metrics.PredictionServed(time.Since(start), pred.Confidence)
	return c.JSON(http.StatusOK, predictResponse{Prediction: pred.Label, Confidence: pred.Confidence})
}

func (s *Server) fail(c echo.Context, status int, msg string) error {
	s.metrics.RequestFailed()
	return c.JSON(status, errorResponse{Error: msg})
}

// #endregion predict

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
