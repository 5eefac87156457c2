package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	rh "github.com/JordanSekky/cereal/route-handlers"
	"github.com/JordanSekky/cereal/webutil"
)

const (
	apiBasePath           = "/api"
	booksBasePath         = "/books"
	chaptersBasePath      = "/chapters"
	subscribersBasePath   = "/subscribers"
	subscriptionsBasePath = "/subscriptions"
)

const (
	chaptersSubPath = "/chapters"
)

const (
	paramID = "id"
)

func SetupRoutes(
	bookHandler *rh.BookHandler,
	chapterHandler *rh.ChapterHandler,
	subscriberHandler *rh.SubscriberHandler,
	subscriptionHandler *rh.SubscriptionHandler,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(SetHeader(webutil.HeaderContentType, webutil.ContentTypeJSONUTF8))

	r.Route(apiBasePath, func(r chi.Router) {
		configureBookRoutes(r, bookHandler, chapterHandler)
		configureChapterRoutes(r, chapterHandler)
		configureSubscriberRoutes(r, subscriberHandler)
		configureSubscriptionRoutes(r, subscriptionHandler)
	})

	// Health check endpoint
	r.Get("/healthz", handleHealthCheck)

	return r
}

// Helper for constructing paths with a parameter
func pathWithParam(basePath string, paramName string) string {
	if basePath == "" {
		return "/{" + paramName + "}"
	}
	return basePath + "/{" + paramName + "}"
}

func configureBookRoutes(r chi.Router, bookHandler *rh.BookHandler, chapterHandler *rh.ChapterHandler) {
	specificBookPath := pathWithParam("", paramID)

	r.Route(booksBasePath, func(r chi.Router) {
		r.Get("/", webutil.MakeHandler(bookHandler.HandleGetBooks))
		r.Post("/", webutil.MakeHandler(bookHandler.HandleCreateBook))
		r.Route(specificBookPath, func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(bookHandler.HandleGetBook))
			r.Patch("/", webutil.MakeHandler(bookHandler.HandleUpdateBook))
			r.Delete("/", webutil.MakeHandler(bookHandler.HandleDeleteBook))
			// GET /books/{id}/chapters
			r.Get(chaptersSubPath, webutil.MakeHandler(chapterHandler.HandleGetBookChapters))
		})
	})
}

func configureChapterRoutes(r chi.Router, handler *rh.ChapterHandler) {
	specificChapterPath := pathWithParam("", paramID)

	r.Route(chaptersBasePath, func(r chi.Router) {
		r.Get(specificChapterPath, webutil.MakeHandler(handler.HandleGetChapter))
		r.Delete(specificChapterPath, webutil.MakeHandler(handler.HandleDeleteChapter))
	})
}

func configureSubscriberRoutes(r chi.Router, handler *rh.SubscriberHandler) {
	specificSubscriberPath := pathWithParam("", paramID)

	r.Route(subscribersBasePath, func(r chi.Router) {
		r.Get("/", webutil.MakeHandler(handler.HandleGetSubscribers))
		r.Post("/", webutil.MakeHandler(handler.HandleCreateSubscriber))
		r.Route(specificSubscriberPath, func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(handler.HandleGetSubscriber))
			r.Patch("/", webutil.MakeHandler(handler.HandleUpdateSubscriber))
			r.Delete("/", webutil.MakeHandler(handler.HandleDeleteSubscriber))
		})
	})
}

func configureSubscriptionRoutes(r chi.Router, handler *rh.SubscriptionHandler) {
	specificSubscriptionPath := pathWithParam("", paramID)

	r.Route(subscriptionsBasePath, func(r chi.Router) {
		r.Get("/", webutil.MakeHandler(handler.HandleGetSubscriptions)) // Query param for subscriber_id
		r.Post("/", webutil.MakeHandler(handler.HandleCreateSubscription))
		r.Route(specificSubscriptionPath, func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(handler.HandleGetSubscription))
			r.Patch("/", webutil.MakeHandler(handler.HandleUpdateSubscription))
			r.Delete("/", webutil.MakeHandler(handler.HandleDeleteSubscription))
		})
	})
}

// handleHealthCheck responds to a health check request.
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeTextPlainUTF8)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// SetHeader is a middleware to set a response header.
func SetHeader(key, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(key, value)
			next.ServeHTTP(w, r)
		})
	}
}
