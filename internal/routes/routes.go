package routes

import (
	"github.com/gin-gonic/gin"

	"brokercrm/internal/auth"
	"brokercrm/internal/authz"
	"brokercrm/internal/handlers"
	"brokercrm/internal/middleware"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	States      *handlers.StateHandler
	Transitions *handlers.TransitionHandler
	LeadState   *handlers.LeadStateHandler
	Workflow    *handlers.WorkflowHandler
}

// SetupRoutes registers the API on r. Public endpoints (health, metrics,
// swagger) are mounted by the caller before this.
func SetupRoutes(r *gin.Engine, h Handlers, verifier *auth.TokenVerifier) *gin.Engine {
	// ---- public
	r.POST("/login", h.Auth.Login)

	// ---- protected
	api := r.Group("/")
	api.Use(middleware.AuthMiddleware(verifier))
	api.Use(middleware.ReadOnlyGuard())

	configure := middleware.RequireRoles(authz.DeskConfigRoles()...)

	// DESK CONFIGURATION
	desks := api.Group("/desks/:desk_id")
	{
		desks.GET("/states", h.States.ListByDesk)
		desks.GET("/states/initial", h.States.Initial)
		desks.POST("/states", configure, h.States.Create)
		desks.PUT("/states/order", configure, h.States.Reorder)

		desks.GET("/transitions", h.Transitions.ListByDesk)
		desks.POST("/transitions", configure, h.Transitions.Create)

		desks.POST("/workflow/default", configure, h.Workflow.BootstrapDefault)

		desks.POST("/leads", h.LeadState.CreateLead)
	}

	// STATES
	states := api.Group("/states")
	{
		states.GET("/:id", h.States.Get)
		states.GET("/:id/transitions", h.Transitions.ListFromState)
		states.PUT("/:id", configure, h.States.Update)
		states.DELETE("/:id", configure, h.States.Delete)
		states.POST("/:id/toggle", configure, h.States.Toggle)
	}

	// TRANSITIONS
	transitions := api.Group("/transitions")
	{
		transitions.GET("/:id", h.Transitions.Get)
		transitions.PUT("/:id", configure, h.Transitions.Update)
		transitions.DELETE("/:id", configure, h.Transitions.Delete)
		transitions.POST("/:id/toggle", configure, h.Transitions.Toggle)
	}

	// LEADS
	leads := api.Group("/leads/:id")
	{
		leads.GET("/transitions", h.LeadState.AvailableTransitions)
		leads.POST("/state", h.LeadState.ApplyTransition)
		leads.POST("/state/initial", h.LeadState.AssignInitialState)
		leads.GET("/history", h.LeadState.History)
		leads.GET("/history/pdf", h.LeadState.HistoryPDF)
		leads.GET("/history/xlsx", h.LeadState.HistoryXLSX)
	}

	return r
}
