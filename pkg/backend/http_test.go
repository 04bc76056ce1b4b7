package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
)

var fastRetry = flowerrors.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	BackoffFactor:  2,
}

func TestHTTPClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/customers/lookup", r.URL.Path)
		assert.Equal(t, "9876543210", r.URL.Query().Get("phone"))
		assert.Equal(t, "token key:secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"message": {"customer": {"id": "CUST-1", "first_name": "Ravi"}}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", WithToken("key:secret"))
	resp, err := c.Do(context.Background(), OpLookupCustomer, Params{"phone": "9876543210"})

	require.NoError(t, err)
	assert.Equal(t, "CUST-1", resp.Map("customer")["id"])
}

func TestHTTPClient_Post(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SRV-WASH", body["service_id"])
		_, _ = w.Write([]byte(`{"booking_id": "BK-7"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL).Do(context.Background(), OpCreateBooking, Params{"service_id": "SRV-WASH"})

	require.NoError(t, err)
	assert.Equal(t, "BK-7", resp.String("booking_id"))
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		class  flowerrors.Class
		tries  int32
	}{
		{http.StatusNotFound, `{"message": "no customer"}`, flowerrors.ClassNotFound, 1},
		{http.StatusUnprocessableEntity, `{"error": "bad phone"}`, flowerrors.ClassValidation, 1},
		{http.StatusBadGateway, `upstream down`, flowerrors.ClassTransientNetwork, 3},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, WithRetry(fastRetry), WithRateLimit(0, 0)).
				Do(context.Background(), OpLookupCustomer, nil)

			require.Error(t, err)
			assert.Equal(t, tt.class, flowerrors.Classify(err))
			assert.Equal(t, tt.tries, hits.Load())
		})
	}
}

func TestHTTPClient_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "no customer with phone 9876543210"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Do(context.Background(), OpLookupCustomer, nil)

	var notFound *flowerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, OpLookupCustomer, notFound.Resource)
	assert.Equal(t, "no customer with phone 9876543210", notFound.Message)
}

func TestHTTPClient_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"services": [{"id": "SRV-WASH"}]}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL, WithRetry(fastRetry)).Do(context.Background(), OpListServices, nil)

	require.NoError(t, err)
	assert.Len(t, resp.List("services"), 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, WithRetry(flowerrors.NoRetry)).Do(context.Background(), OpListSlots, nil)

	var netErr *flowerrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, OpListSlots, netErr.Op)
	assert.Equal(t, flowerrors.ClassTransientNetwork, flowerrors.Classify(err))
}

func TestHTTPClient_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL).Do(context.Background(), OpCreateBooking, Params{})

	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestHTTPClient_UnknownOperation(t *testing.T) {
	_, err := NewHTTPClient("http://unused").Do(context.Background(), "refund", nil)

	var unknown *UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "refund", unknown.Op)
}

func TestHTTPClient_CustomEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/method/get_filtered_services", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithEndpoints(map[string]Endpoint{
		OpListServices: {Method: http.MethodGet, Path: "/api/method/get_filtered_services"},
	}))
	_, err := c.Do(context.Background(), OpListServices, nil)

	require.NoError(t, err)
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRateLimit(0.001, 1), WithRetry(flowerrors.NoRetry))
	_, err := c.Do(context.Background(), OpListServices, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, OpListServices, nil)

	assert.Error(t, err)
}

func TestHTTPClient_PathParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/customers/CUST%2F9/vehicles", r.URL.EscapedPath())
		assert.Empty(t, r.URL.Query().Get("customer_id"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"vehicles": [{"id": "VEH-1"}]}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL).Do(context.Background(), OpListVehicles,
		Params{"customer_id": "CUST/9", "status": "active"})

	require.NoError(t, err)
	assert.Len(t, resp.List("vehicles"), 1)
}

func TestHTTPClient_MissingPathParam(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, WithRetry(fastRetry)).Do(context.Background(), OpListVehicles, Params{})

	var verr *flowerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "customer_id", verr.Field)
	assert.Zero(t, calls.Load())
}

func TestHTTPClient_CreateBookingIsSentOnce(t *testing.T) {
	var posts atomic.Int32
	var key atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bookings", r.URL.Path)
		posts.Add(1)
		key.Store(r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, WithRetry(fastRetry)).
		Do(context.Background(), OpCreateBooking, Params{"customer_id": "CUST-1", "slot_id": "SLOT-AM"})

	require.Error(t, err)
	assert.Equal(t, flowerrors.ClassTransientNetwork, flowerrors.Classify(err))
	assert.Equal(t, int32(1), posts.Load())
	assert.NotEmpty(t, key.Load())
}

func TestHTTPClient_IdempotentWriteReusesKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(keys)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"price": 499}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetry(fastRetry))
	_, err := c.Do(context.Background(), OpCalculatePrice, Params{"service_id": "SRV-WASH"})
	require.NoError(t, err)

	first := seen()
	require.Len(t, first, 3)
	assert.NotEmpty(t, first[0])
	assert.Equal(t, first[0], first[1])
	assert.Equal(t, first[0], first[2])

	_, err = c.Do(context.Background(), OpCalculatePrice, Params{"service_id": "SRV-WASH"})
	require.NoError(t, err)

	all := seen()
	require.Len(t, all, 4)
	assert.NotEqual(t, first[0], all[3])
}

func TestHTTPClient_ReadsCarryNoKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Do(context.Background(), OpListSlots, nil)

	require.NoError(t, err)
}
