package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"estatehub/middleware"
)

// Routes bundles everything the router mounts
type Routes struct {
	Auth      *middleware.JWT
	WebSocket *WebSocketHandler
	Groups    *GroupHandler
	Messages  *MessageHandler
	Checkout  *CheckoutHandler
	Webhook   *WebhookHandler
	Origins   []string
	Logger    *zap.Logger

	// StoreTimeout bounds chat and group requests. Checkout requests also
	// call the payment processor and get CheckoutTimeout instead.
	StoreTimeout    time.Duration
	CheckoutTimeout time.Duration
}

// NewRouter wires the HTTP surface
func NewRouter(rt Routes) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(rt.Logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// The processor authenticates with its signature, not a bearer token.
	r.Handle("/api/webhooks/stripe", rt.Webhook).Methods(http.MethodPost)

	r.Handle("/ws", rt.Auth.Auth(rt.WebSocket)).Methods(http.MethodGet)

	checkout := r.PathPrefix("/api/checkout").Subrouter()
	checkout.Use(rt.Auth.Auth, middleware.Timeout(rt.CheckoutTimeout))
	checkout.HandleFunc("/subscription", rt.Checkout.Subscription).Methods(http.MethodPost)
	checkout.HandleFunc("/banner", rt.Checkout.Banner).Methods(http.MethodPost)
	checkout.HandleFunc("/boost", rt.Checkout.Boost).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(rt.Auth.Auth, middleware.Timeout(rt.StoreTimeout))

	api.HandleFunc("/groups", rt.Groups.CreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups", rt.Groups.ListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/messages", rt.Groups.GroupMessages).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/members", rt.Groups.AddMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupId}/members/{userId}", rt.Groups.RemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{groupId}/admins", rt.Groups.PromoteMember).Methods(http.MethodPost)

	api.HandleFunc("/chat/partners", rt.Messages.ChatPartners).Methods(http.MethodGet)
	api.HandleFunc("/chat/unseen", rt.Messages.UnseenCount).Methods(http.MethodGet)
	api.HandleFunc("/chat/threads/{userId}", rt.Messages.Thread).Methods(http.MethodGet)
	api.HandleFunc("/messages", rt.Messages.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/seen", rt.Messages.MarkSeen).Methods(http.MethodPost)
	api.HandleFunc("/messages/{messageId}", rt.Messages.Message).Methods(http.MethodGet)

	api.HandleFunc("/properties/activate", rt.Checkout.ActivateProperties).Methods(http.MethodPost)

	// Preflight requests match no route, so CORS wraps the whole router.
	return cors.Handler(cors.Options{
		AllowedOrigins:   rt.Origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)
}
