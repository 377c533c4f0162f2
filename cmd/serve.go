package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lalo/core/pkg/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server exposing the orchestration engine.

Endpoints:
- POST /api/requests                 submit a request through the unified handler
- GET  /api/requests/:id             fetch a persisted request
- GET  /api/requests/:id/events      poll the live event trail for a request
- POST /api/workflows                start a human-in-the-loop workflow
- GET  /api/workflows/:id            fetch a workflow session
- POST /api/workflows/:id/feedback   approve or reject the pending stage
- POST /api/workflows/:id/{interpretation,plan,results}  stage-specific feedback
- POST /api/workflows/:id/cancel     cancel a workflow
- GET  /api/tools                    list registered tools
- POST /api/tools/:name/execute      invoke a tool directly
- GET  /api/models                   list models available to the caller
- GET  /api/secrets                  list the caller's stored credential names
- POST /api/secrets                  store a credential and refresh model access
- DELETE /api/secrets/:name          remove a credential and refresh model access

Examples:
  lalo-core serve                    # default settings
  lalo-core serve --port 8000        # custom port`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "host to bind")
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Store.Close()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.POST("/requests", func(c *gin.Context) {
		var body struct {
			Prompt string `json:"prompt"`
			UserID string `json:"user_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp := app.Handler.Handle(c.Request.Context(), principalFor(app, body.UserID), body.Prompt)
		status := http.StatusOK
		if resp.Error != nil {
			status = statusFor(resp.Error.Kind)
		}
		c.JSON(status, resp)
	})

	api.GET("/requests/:id/events", func(c *gin.Context) {
		since := -1
		if n, err := strconv.Atoi(c.Query("since")); err == nil {
			since = n
		}
		list, last := app.History.Since(c.Param("id"), since)
		c.JSON(http.StatusOK, gin.H{"events": list, "last_index": last})
	})

	api.GET("/requests/:id", func(c *gin.Context) {
		row, err := app.Store.GetRequest(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, row)
	})

	api.POST("/workflows", func(c *gin.Context) {
		var body struct {
			Request string `json:"request"`
			UserID  string `json:"user_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		session, err := app.Workflow.Start(c.Request.Context(), principalFor(app, body.UserID), body.Request)
		if err != nil && session == nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, session)
	})

	api.GET("/workflows/:id", func(c *gin.Context) {
		session, err := app.Workflow.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, session)
	})

	feedbackHandler := func(stage string) gin.HandlerFunc {
		return func(c *gin.Context) {
			var body struct {
				Stage    string  `json:"stage"`
				Approved bool    `json:"approved"`
				Feedback string  `json:"feedback"`
				Rating   float64 `json:"rating"`
				UserID   string  `json:"user_id"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if stage == "" {
				stage = body.Stage
			}
			session, err := app.Workflow.SubmitFeedback(c.Request.Context(), principalFor(app, body.UserID), c.Param("id"), stage, body.Approved, body.Feedback, body.Rating)
			if err != nil && session == nil {
				c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, session)
		}
	}
	api.POST("/workflows/:id/feedback", feedbackHandler(""))
	api.POST("/workflows/:id/interpretation", feedbackHandler("interpretation"))
	api.POST("/workflows/:id/plan", feedbackHandler("plan"))
	api.POST("/workflows/:id/results", feedbackHandler("results"))

	api.POST("/workflows/:id/cancel", func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		session, err := app.Workflow.Cancel(c.Request.Context(), c.Param("id"), body.Reason)
		if err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, session)
	})

	api.GET("/workflows/:id/feedback", func(c *gin.Context) {
		events, err := app.Store.ListFeedbackEvents(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"feedback": events})
	})

	api.GET("/agents", func(c *gin.Context) {
		agents, err := app.Store.ListAgents(c.Request.Context())
		if err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": agents})
	})

	api.GET("/agents/:name", func(c *gin.Context) {
		agent, err := app.Store.GetAgent(c.Request.Context(), c.Param("name"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, agent)
	})

	api.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": app.Registry.List()})
	})

	api.POST("/tools/:name/execute", func(c *gin.Context) {
		var body struct {
			Args   map[string]any `json:"args"`
			UserID string         `json:"user_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result := app.Registry.Execute(c.Request.Context(), c.Param("name"), principalFor(app, body.UserID), body.Args)
		status := http.StatusOK
		if !result.Success {
			status = statusFor(core.Kind(result.ErrorKind))
		}
		c.JSON(status, result)
	})

	api.GET("/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": app.Gateway.AvailableModels(c.Query("user_id"))})
	})

	// Credential mutations re-derive the caller's model access from their
	// remaining stored credentials.
	refreshModels := func(c *gin.Context, userID string) any {
		names, err := app.Secrets.List(c.Request.Context(), userID)
		if err != nil {
			app.Logger.Warnf("⚠️ Listing credentials for %s failed: %v", userID, err)
			names = nil
		}
		return app.Gateway.RefreshUserModels(c.Request.Context(), userID, names)
	}

	api.GET("/secrets", func(c *gin.Context) {
		names, err := app.Secrets.List(c.Request.Context(), c.Query("user_id"))
		if err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"secrets": names})
	})

	api.POST("/secrets", func(c *gin.Context) {
		var body struct {
			UserID string `json:"user_id"`
			Name   string `json:"name"`
			Value  string `json:"value"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := app.Secrets.Set(c.Request.Context(), body.UserID, body.Name, body.Value); err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"models": refreshModels(c, body.UserID)})
	})

	api.DELETE("/secrets/:name", func(c *gin.Context) {
		userID := c.Query("user_id")
		if err := app.Secrets.Delete(c.Request.Context(), userID, c.Param("name")); err != nil {
			c.JSON(statusFor(core.KindOf(err)), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"models": refreshModels(c, userID)})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port")),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Errorf("❌ Server failed: %v", err)
			os.Exit(1)
		}
	}()
	app.Logger.Infof("🌐 Server listening on %s", srv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	app.Logger.Infof("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// principalFor builds the caller identity. Authentication is out of scope
// for the API surface; every identified caller gets the full permission set,
// and in demo mode the anonymous caller is mapped to the demo user.
func principalFor(app *App, userID string) core.Principal {
	if userID == "" {
		if app.Config.DemoMode {
			userID = "demo-user"
		} else {
			userID = "anonymous"
		}
	}
	return core.Principal{
		UserID:      userID,
		Permissions: []string{"files", "db", "code", "network"},
	}
}

func statusFor(kind core.Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case core.KindInvalidInput, core.KindValidationFailed:
		return http.StatusBadRequest
	case core.KindAuthFailed:
		return http.StatusUnauthorized
	case core.KindPermissionDenied, core.KindSandboxViolation:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRateLimited, core.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case core.KindSaturated:
		return http.StatusServiceUnavailable
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindDependencyUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
