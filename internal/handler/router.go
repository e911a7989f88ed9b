package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/sahayata/donation-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса пожертвований.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Get("/{campaignID}", h.GetCampaign)
			r.Get("/{campaignID}/donations", h.GetCampaignDonations)
			r.Get("/{campaignID}/total", h.GetCampaignTotal)
			r.Get("/{campaignID}/paylink", h.GetPaymentLink)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Post("/", h.CreateCampaign)
			})

			// Гостевые пожертвования разрешены: авторизация необязательна.
			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Optional)
				r.Post("/{campaignID}/donations", h.Donate)
			})
		})

		r.Get("/references/{reference}/available", h.VerifyReference)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.RequireAdmin)

			r.Post("/donations", h.AdminCreateDonation)
			r.Get("/donations/{donationID}", h.AdminGetDonation)
			r.Patch("/donations/{donationID}/status", h.AdminSetDonationStatus)
			r.Patch("/campaigns/{campaignID}/status", h.AdminModerateCampaign)
			r.Delete("/campaigns/{campaignID}", h.AdminDeleteCampaign)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
