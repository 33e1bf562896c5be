package main

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/stemflow/pipelines"
	"github.com/warriorguo/stemflow/types"
)

// sessionAPI is the part of stemflow.Engine the routes call.
type sessionAPI interface {
	SubmitAudio(ctx context.Context, in pipelines.AudioInput) (string, error)
	SubmitMidi(ctx context.Context, in pipelines.MidiInput) error
	SessionStatus(ctx context.Context, sessionID string) (*types.Session, error)
	RunStatus(ctx context.Context, sessionID string) (*types.RunStatus, bool)
	MidiRunStatus(ctx context.Context, sessionID, stemName string) (*types.RunStatus, bool)
}

type sessionResponse struct {
	Session *types.Session   `json:"session"`
	Run     *types.RunStatus `json:"run,omitempty"`
}

func setupRoutes(router *gin.Engine, api sessionAPI, maxUploadBytes int64) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", createSession(api, maxUploadBytes))
		sessions.GET("/:sessionId", getSession(api))
		sessions.POST("/:sessionId/midi/:stem", createMidi(api))
		sessions.GET("/:sessionId/midi/:stem", getMidi(api))
	}
}

func createSession(api sessionAPI, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

		header, err := c.FormFile("file")
		if err != nil {
			abort(c, errors.NewBadRequest(err, "multipart field file"))
			return
		}
		f, err := header.Open()
		if err != nil {
			abort(c, errors.Trace(err))
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			abort(c, errors.NewBadRequest(err, "reading upload"))
			return
		}

		sessionID, err := api.SubmitAudio(c.Request.Context(), pipelines.AudioInput{
			File:      data,
			FileName:  header.Filename,
			SessionID: c.PostForm("sessionId"),
		})
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID})
	}
}

func getSession(api sessionAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		sessionID := c.Param("sessionId")

		sess, err := api.SessionStatus(ctx, sessionID)
		if err != nil {
			abort(c, err)
			return
		}
		resp := sessionResponse{Session: sess}
		if status, ok := api.RunStatus(ctx, sessionID); ok {
			resp.Run = status
		}
		c.JSON(http.StatusOK, resp)
	}
}

func createMidi(api sessionAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := pipelines.MidiInput{SessionID: c.Param("sessionId"), StemName: c.Param("stem")}
		if err := api.SubmitMidi(c.Request.Context(), in); err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sessionId": in.SessionID, "stem": in.StemName})
	}
}

func getMidi(api sessionAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, stem := c.Param("sessionId"), c.Param("stem")
		status, ok := api.MidiRunStatus(c.Request.Context(), sessionID, stem)
		if !ok {
			abort(c, errors.NotFoundf("midi run %s/%s", sessionID, stem))
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.BadRequest), errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		log.WithField("path", c.FullPath()).Errorf("request failed: %v", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
