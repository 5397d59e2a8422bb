// Package api is the HTTP surface of the transfer service.
package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/notify"
	"github.com/erazemk/squire/internal/transfer"
)

// Deps are the collaborators the router wires into its handlers.
type Deps struct {
	DB          *sql.DB
	JWTSecret   string
	Coordinator *transfer.Coordinator
	Notices     *notify.Service
	Hub         *notify.Hub
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	usersHandler := &UsersHandler{DB: d.DB, Hub: d.Hub}
	actorsHandler := &ActorsHandler{DB: d.DB}
	itemsHandler := &ItemsHandler{DB: d.DB}
	transfersHandler := &TransfersHandler{DB: d.DB, Coordinator: d.Coordinator}
	noticesHandler := &NoticesHandler{Notices: d.Notices, Hub: d.Hub}
	settingsHandler := &SettingsHandler{DB: d.DB}

	authMW := AuthMiddleware(d.JWTSecret, d.DB)
	requireGM := RequireRole(model.RoleGamemaster)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (game master only).
	mux.Handle("GET /api/users", authMW(requireGM(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireGM(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireGM(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireGM(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireGM(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireGM(http.HandlerFunc(usersHandler.Delete))))

	// Actors: reads follow the user's permission level, structure is game master only.
	mux.Handle("GET /api/actors", authMW(http.HandlerFunc(actorsHandler.List)))
	mux.Handle("POST /api/actors", authMW(requireGM(http.HandlerFunc(actorsHandler.Create))))
	mux.Handle("GET /api/actors/{id}", authMW(http.HandlerFunc(actorsHandler.Get)))
	mux.Handle("PUT /api/actors/{id}", authMW(requireGM(http.HandlerFunc(actorsHandler.Update))))
	mux.Handle("DELETE /api/actors/{id}", authMW(requireGM(http.HandlerFunc(actorsHandler.Delete))))
	mux.Handle("PUT /api/actors/{id}/ownership", authMW(requireGM(http.HandlerFunc(actorsHandler.SetOwnership))))
	mux.Handle("GET /api/actors/{id}/items", authMW(http.HandlerFunc(actorsHandler.Items)))
	mux.Handle("POST /api/actors/{id}/items", authMW(http.HandlerFunc(actorsHandler.CreateItem)))
	mux.Handle("GET /api/actors/{id}/history", authMW(http.HandlerFunc(actorsHandler.History)))

	// Items: access follows the holding actor.
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}/icon", authMW(http.HandlerFunc(itemsHandler.UploadIcon)))
	mux.Handle("GET /api/items/{id}/icon", authMW(http.HandlerFunc(itemsHandler.GetIcon)))
	mux.Handle("POST /api/items/{id}/seen", authMW(http.HandlerFunc(itemsHandler.MarkSeen)))

	// Transfers (all roles; the coordinator checks who may act).
	mux.Handle("POST /api/transfers", authMW(http.HandlerFunc(transfersHandler.Create)))
	mux.Handle("GET /api/transfers", authMW(http.HandlerFunc(transfersHandler.List)))
	mux.Handle("GET /api/transfers/{id}", authMW(http.HandlerFunc(transfersHandler.Get)))
	mux.Handle("POST /api/transfers/{id}/{action}", authMW(http.HandlerFunc(transfersHandler.Act)))

	// Notices.
	mux.Handle("GET /api/notices", authMW(http.HandlerFunc(noticesHandler.List)))
	mux.Handle("DELETE /api/notices/{id}", authMW(http.HandlerFunc(noticesHandler.Delete)))
	mux.Handle("GET /api/notices/ws", QueryToken(authMW(http.HandlerFunc(noticesHandler.Stream))))

	// Settings (game master only).
	mux.Handle("GET /api/settings/transfers", authMW(requireGM(http.HandlerFunc(settingsHandler.GetTransfers))))
	mux.Handle("PUT /api/settings/transfers", authMW(requireGM(http.HandlerFunc(settingsHandler.UpdateTransfers))))

	return mux
}
