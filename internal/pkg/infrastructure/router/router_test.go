package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"
)

func TestPreflightIsAnsweredForAnyOrigin(t *testing.T) {
	is := is.New(t)

	r := New("test")
	r.Post("/Things", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodOptions, "/Things", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	is.True(w.Header().Get("Access-Control-Allow-Origin") != "")
	is.Equal(w.Code, http.StatusNoContent)
}

func TestRoutesAreServed(t *testing.T) {
	is := is.New(t)

	r := New("test")
	r.Get("/Things", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/Things", nil))

	is.Equal(w.Code, http.StatusOK)
}
