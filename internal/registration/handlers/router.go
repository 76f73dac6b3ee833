package handlers

import (
	"github.com/gartstein/enroll/internal/registration/auth"
	"github.com/gin-gonic/gin"
)

// NewRouter wires the public and admin route groups. Admin routes require
// a verified admin principal; public registration routes are gated by the
// schedule inside the service layer, not here.
func NewRouter(h *Handler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	public := r.Group("/v1")
	{
		public.POST("/preregistrations", h.SubmitPreRegistration)
		public.POST("/companies", h.RegisterCompany)
		public.GET("/schedule", h.GetSchedule)
		public.GET("/company-names/lookup", h.LookupCompanyName)
	}

	admin := r.Group("/v1/admin")
	admin.Use(auth.Authenticate(jwtSecret), auth.RequireRole(auth.RoleAdmin))
	{
		admin.PUT("/schedule", h.SetSchedule)

		admin.GET("/companies", h.ListCompanies)
		admin.PATCH("/companies/:id", h.PatchCompany)
		admin.POST("/companies/:id/approve", h.ApproveCompany)
		admin.POST("/companies/:id/reject", h.RejectCompany)
		admin.DELETE("/companies/:id", h.DeleteCompany)

		admin.GET("/preregistrations", h.ListPreRegistrations)
		admin.DELETE("/preregistrations/:id", h.DeletePreRegistration)

		admin.POST("/groups", h.CreateGroup)
		admin.GET("/groups", h.ListGroups)
		admin.PATCH("/groups/:id", h.PatchGroup)
		admin.DELETE("/groups/:id", h.DeleteGroup)
		admin.POST("/groups/audit", h.AuditGroups)

		admin.POST("/company-names", h.CreateCompanyName)
		admin.GET("/company-names", h.ListCompanyNames)
		admin.PATCH("/company-names/:id", h.UpdateCompanyName)
		admin.DELETE("/company-names/:id", h.DeleteCompanyName)
		admin.POST("/company-names/import", h.ImportCompanyNames)
	}

	return r
}
