package handlers

import (
	"lotbuy/internal/blob"
	"lotbuy/internal/config"
	"lotbuy/internal/repos"
	"lotbuy/internal/services"
)

type Deps struct {
	Auth *services.AuthService

	AuthHandler         *AuthHandler
	LotHandler          *LotHandler
	OfferHandler        *OfferHandler
	DealHandler         *DealHandler
	NotificationHandler *NotificationHandler
	UploadHandler       *UploadHandler
}

// NewDeps wires the services over one store. The engine is passed in so the
// caller owns its clock and payment window.
func NewDeps(store *repos.Store, cfg config.Config, engine *services.Engine, uploads blob.Store) *Deps {
	authSvc := services.NewAuthService(store.Users)
	query := services.NewQueryService(store, services.NewProjector(store.Stats))
	msgSvc := services.NewMessageService(store)
	retries := cfg.Engine.MaxRetries

	return &Deps{
		Auth:                authSvc,
		AuthHandler:         &AuthHandler{Auth: authSvc, Query: query},
		LotHandler:          &LotHandler{Engine: engine, Query: query, Retries: retries},
		OfferHandler:        &OfferHandler{Engine: engine, Query: query, Messages: msgSvc, Retries: retries},
		DealHandler:         &DealHandler{Engine: engine, Query: query, Retries: retries},
		NotificationHandler: &NotificationHandler{Notes: store.Notifications},
		UploadHandler:       &UploadHandler{Store: uploads, MaxBytes: int64(cfg.Server.BodyLimitMB) << 20},
	}
}
