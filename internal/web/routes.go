package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Service, s.logger)
	ledgerHandler := handlers.NewLedgerHandler(s.deps.Ledger, s.logger)
	statusHandler := handlers.NewStatusHandler(s.deps.Storage, s.deps.Service, s.logger)

	s.router.Get("/healthz", handlers.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Attendance
		r.Post("/attendance", attendanceHandler.Attend)
		r.Get("/owners/{ownerID}/last-event", attendanceHandler.LastEvent)

		// Enrollment
		r.Post("/enrollments", attendanceHandler.Enroll)
		r.Delete("/enrollments/{ownerID}", attendanceHandler.RemoveOwner)

		// Ledger
		r.Get("/audits", ledgerHandler.Audits)
		r.Get("/events", ledgerHandler.Events)
		r.Post("/events/sync", ledgerHandler.MarkSynced)

		// Status
		r.Get("/storage", statusHandler.Storage)
		r.Get("/cache", statusHandler.Cache)
	})
}
