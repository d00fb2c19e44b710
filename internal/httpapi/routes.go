package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Routes struct {
	API     *API
	WS      http.Handler
	Metrics http.Handler
	Log     *zap.Logger
}

func SetupRoutes(rt Routes) http.Handler {
	if rt.Log == nil {
		rt.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.Log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics)
	}
	if rt.WS != nil {
		r.Get("/ws", rt.WS.ServeHTTP)
	}

	r.Get("/boxes", rt.API.ListBoxes)
	r.Post("/boxes/{boxID}/open", rt.API.OpenBox)
	r.Get("/openings/{openingID}", rt.API.GetOpening)
	r.Get("/inventory", rt.API.Inventory)
	r.Get("/fairness/verify", rt.API.Verify)

	r.Route("/battles", func(r chi.Router) {
		r.Post("/", rt.API.CreateBattle)
		r.Get("/", rt.API.ListBattles)
		r.Route("/{battleID}", func(r chi.Router) {
			r.Get("/", rt.API.GetBattle)
			r.Post("/join", rt.API.JoinBattle)
			r.Post("/start", rt.API.StartBattle)
			r.Post("/cancel", rt.API.CancelBattle)
			r.Post("/force-stop", rt.API.ForceStopBattle)
		})
	})
	return r
}
