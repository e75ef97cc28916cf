package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := New(config.RemoteConfig{
		BaseURL:          server.URL,
		APIKey:           "test-key",
		RequestTimeoutMS: 2000,
	})
	return client, server
}

func TestClient_FetchSuccess(t *testing.T) {
	var gotPath, gotAuth string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sqft":1200}`))
	})
	defer server.Close()

	result, err := client.Fetch(context.Background(), Request{
		Type:       model.CollectionProperty,
		SubjectKey: "APN-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "/parcels/APN-123", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, []byte(`{"sqft":1200}`), result.Payload)
	assert.WithinDuration(t, time.Now(), result.FetchedAt, 5*time.Second)
}

func TestClient_EndpointPerCollectionType(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		wantPath string
		wantRaw  string
	}{
		{
			name:     "property",
			req:      Request{Type: model.CollectionProperty, SubjectKey: "APN-1"},
			wantPath: "/parcels/APN-1",
		},
		{
			name: "owner history with params",
			req: Request{
				Type:       model.CollectionOwnerHistory,
				SubjectKey: "APN-1",
				Params:     model.OwnerHistoryParams{YearsBack: 10},
			},
			wantPath: "/parcels/APN-1/owners",
			wantRaw:  "years=10",
		},
		{
			name: "tax records with range",
			req: Request{
				Type:       model.CollectionTaxRecords,
				SubjectKey: "APN-1",
				Params:     model.TaxRecordParams{FromYear: 2020, ToYear: 2024},
			},
			wantPath: "/parcels/APN-1/taxes",
			wantRaw:  "from=2020&to=2024",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery string
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				w.Write([]byte(`{}`))
			})
			defer server.Close()

			_, err := client.Fetch(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, gotPath)
			assert.Equal(t, tt.wantRaw, gotQuery)
		})
	}
}

func TestClient_FetchNotFound(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	_, err := client.Fetch(context.Background(), Request{
		Type:       model.CollectionProperty,
		SubjectKey: "APN-missing",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsTransient(err))
}

func TestClient_FetchServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.Fetch(context.Background(), Request{
			Type:       model.CollectionProperty,
			SubjectKey: "APN-123",
		})
		assert.True(t, IsTransient(err), "status %d must be transient", status)

		var transient *TransientError
		require.ErrorAs(t, err, &transient)
		assert.Equal(t, status, transient.StatusCode)
		server.Close()
	}
}

func TestClient_FetchBadRequestIsPermanent(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"title":"Invalid parameter","detail":"county is not recognized"}]}`))
	})
	defer server.Close()

	_, err := client.Fetch(context.Background(), Request{
		Type:       model.CollectionProperty,
		SubjectKey: "APN-123",
		Params:     model.PropertyParams{County: "Nowhere"},
	})
	assert.False(t, IsTransient(err))

	var permanent *PermanentError
	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, http.StatusBadRequest, permanent.StatusCode)
	assert.Contains(t, permanent.Detail, "Invalid parameter")
	assert.Contains(t, permanent.Detail, "county is not recognized")
}

func TestClient_FetchUnknownTypeIsPermanent(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	defer server.Close()

	_, err := client.Fetch(context.Background(), Request{
		Type:       model.CollectionType("zoning"),
		SubjectKey: "APN-123",
	})
	var permanent *PermanentError
	assert.ErrorAs(t, err, &permanent)
}

func TestClient_FetchContextCancelled(t *testing.T) {
	started := make(chan struct{})
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Fetch(ctx, Request{
		Type:       model.CollectionProperty,
		SubjectKey: "APN-123",
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_FetchAsync(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sqft":900}`))
	})
	defer server.Close()

	outcome := <-client.FetchAsync(context.Background(), Request{
		Type:       model.CollectionProperty,
		SubjectKey: "APN-123",
	})
	require.NoError(t, outcome.Err)
	assert.Equal(t, []byte(`{"sqft":900}`), outcome.Result.Payload)
}
