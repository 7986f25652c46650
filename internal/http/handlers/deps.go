package handlers

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"codeshop/internal/config"
	"codeshop/internal/events"
	"codeshop/internal/redisx"
	"codeshop/internal/repos"
	"codeshop/internal/services"
)

type Deps struct {
	Auth             *services.AuthService
	AuthHandler      *AuthHandler
	CategoryHandler  *CategoryHandler
	ProductHandler   *ProductHandler
	InventoryHandler *InventoryHandler
	SearchHandler    *SearchHandler
	OrderHandler     *OrderHandler
	APIHandler       *APIHandler
	WebhookHandler   *WebhookHandler
	AdminHandler     *AdminHandler
	SecureCookies    bool
}

// NewDeps wires repositories and services for one database. pub and dedup
// may be nil: events are then dropped and webhook dedup relies on the DB.
func NewDeps(db *sqlx.DB, cfg config.Config, pub events.Publisher, dedup *redisx.Dedup, log *zap.Logger) *Deps {
	catRepo := repos.NewCategoryRepo(db)
	prodRepo := repos.NewProductRepo(db)
	invRepo := repos.NewInventoryRepo(db)

	authSvc := &services.AuthService{Users: repos.NewUserRepo(db)}
	catalogSvc := services.NewCatalogService(catRepo, prodRepo, invRepo)
	invSvc := services.NewInventoryService(invRepo, prodRepo, log)
	orderSvc := services.NewOrderService(db, pub, log)
	orderSvc.Producer = cfg.ServiceName
	paySvc := services.NewPaymentService(db, orderSvc, services.HostedCheckout{BaseURL: cfg.GatewayURL}, dedup, log)
	ticketSvc := services.NewTicketService(db, pub, log)
	ticketSvc.Producer = cfg.ServiceName

	return &Deps{
		Auth:             authSvc,
		AuthHandler:      &AuthHandler{Auth: authSvc, SecureCookies: cfg.SecureCookies},
		CategoryHandler:  &CategoryHandler{Catalog: catalogSvc},
		ProductHandler:   &ProductHandler{Catalog: catalogSvc},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		SearchHandler:    &SearchHandler{Catalog: catalogSvc},
		OrderHandler:     &OrderHandler{Orders: orderSvc, Payments: paySvc},
		APIHandler:       &APIHandler{Catalog: catalogSvc, Orders: orderSvc, Payments: paySvc, Tickets: ticketSvc},
		WebhookHandler:   &WebhookHandler{Payments: paySvc, Secret: []byte(cfg.WebhookSecret)},
		AdminHandler:     &AdminHandler{Orders: orderSvc, Inv: invSvc, Promos: orderSvc.Promos, Tickets: ticketSvc},
		SecureCookies:    cfg.SecureCookies,
	}
}
