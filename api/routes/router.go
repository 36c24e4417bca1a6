package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ifarma/backoffice-backend/api/controllers"
	webhookcontrollers "github.com/ifarma/backoffice-backend/api/controllers/webhooks"
	"github.com/ifarma/backoffice-backend/api/middleware"
	"github.com/ifarma/backoffice-backend/pkg/config"
	"github.com/ifarma/backoffice-backend/pkg/db"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	"github.com/ifarma/backoffice-backend/pkg/logger"
	"github.com/ifarma/backoffice-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	plansSvc controllers.PlansService,
	contractsSvc controllers.ContractsService,
	subscriptionsSvc controllers.SubscriptionsService,
	usageSvc controllers.UsageService,
	invoicesSvc controllers.InvoicesService,
	paymentConfirmer webhookcontrollers.PaymentConfirmer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/plans", controllers.PublicListPlans(plansSvc, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(paymentConfirmer, cfg.Gateway.WebhookToken, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/merchant", func(r chi.Router) {
			r.Use(middleware.MerchantContext(logg))

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/", controllers.MerchantSubscription(subscriptionsSvc, logg))
				r.Post("/migrate", controllers.MerchantMigratePlan(subscriptionsSvc, logg))
				r.Get("/activation", controllers.MerchantActivationStatus(subscriptionsSvc, logg))
				r.Post("/cancel", controllers.MerchantCancelSubscription(subscriptionsSvc, logg))
				r.Get("/terms", controllers.MerchantEffectiveTerms(subscriptionsSvc, logg))
			})
			r.Get("/usage", controllers.MerchantUsage(subscriptionsSvc, logg))
			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", controllers.MerchantListInvoices(invoicesSvc, logg))
				r.Get("/{invoiceId}", controllers.MerchantGetInvoice(invoicesSvc, logg))
			})
		})

		r.Route("/v1/internal", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleService, logg))
			r.Post("/usage/orders", controllers.RecordOrderUsage(usageSvc, logg))
		})

		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
			r.Get("/ping", controllers.AdminPing())

			r.Route("/plans", func(r chi.Router) {
				r.Get("/", controllers.AdminListPlans(plansSvc, logg))
				r.Post("/", controllers.AdminCreatePlan(plansSvc, logg))
				r.Get("/{planId}", controllers.AdminGetPlan(plansSvc, logg))
				r.Patch("/{planId}", controllers.AdminUpdatePlan(plansSvc, logg))
			})
			r.Route("/merchants/{merchantId}/contract", func(r chi.Router) {
				r.Get("/", controllers.AdminGetContract(contractsSvc, logg))
				r.Put("/", controllers.AdminUpsertContract(contractsSvc, logg))
			})
			r.Route("/invoices/{invoiceId}", func(r chi.Router) {
				r.Post("/settle", controllers.AdminSettleInvoice(invoicesSvc, logg))
				r.Post("/void", controllers.AdminVoidInvoice(invoicesSvc, logg))
			})
			r.Get("/revenue", controllers.AdminRevenue(invoicesSvc, logg))
		})
	})

	return r
}
