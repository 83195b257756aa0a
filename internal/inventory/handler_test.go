package inventory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc := NewService(newMemoryRepo(), nil, nil)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandlerWithdrawalGuard(t *testing.T) {
	srv, svc := newTestServer(t)
	item := createItem(t, svc, "BP-01", 10, 5)
	url := srv.URL + "/items/" + strconv.FormatInt(item.ID, 10) + "/transactions"

	resp := post(t, url, `{"type":"WITHDRAWAL","delta":"-12"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, url, `{"type":"WITHDRAWAL","delta":"-6","document_number":"WD-7"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Item struct {
			Quantity string `json:"quantity"`
			Status   string `json:"status"`
		} `json:"item"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "4", body.Item.Quantity)
	require.Equal(t, string(StatusLow), body.Item.Status)

	resp = post(t, url, `{"type":"WITHDRAWAL","delta":"-12","allow_negative":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHandlerErrors(t *testing.T) {
	srv, svc := newTestServer(t)
	item := createItem(t, svc, "BP-01", 10, 5)

	resp := post(t, srv.URL+"/items/999/transactions", `{"type":"ADJUSTMENT","delta":"1"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, srv.URL+"/items/"+strconv.FormatInt(item.ID, 10)+"/transactions", `{"type":"TRANSFER","delta":"1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = post(t, srv.URL+"/items/"+strconv.FormatInt(item.ID, 10)+"/transactions", `{"type":"ADJUSTMENT","delta":"0"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = post(t, srv.URL+"/items", `{"code":"BP-01","name":"dup","unit":"pcs"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, srv.URL+"/items", `{"code":"BP-02","name":"pad","unit":"pcs","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerOutflowDeltaSign(t *testing.T) {
	srv, svc := newTestServer(t)
	item := createItem(t, svc, "BP-03", 10, 0)
	url := srv.URL + "/items/" + strconv.FormatInt(item.ID, 10) + "/transactions"

	var problem struct {
		Detail string `json:"detail"`
	}
	resp := post(t, url, `{"type":"WITHDRAWAL","delta":"3"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	require.Equal(t, ErrInvalidDelta.Error(), problem.Detail)

	resp = post(t, url, `{"type":"WITHDRAWAL","delta":"0"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	require.Equal(t, ErrInvalidQuantity.Error(), problem.Detail)

	stored, err := svc.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, stored.Quantity.Equal(qty(10)))
}
