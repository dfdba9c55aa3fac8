package mediaserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Username:   "listener",
		Password:   "secret",
		ClientName: "yaytsa-player",
		Version:    "dev",
		DeviceName: "testbox",
	}
}

func TestClient_Authenticate(t *testing.T) {
	var gotBody map[string]string
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/Users/AuthenticateByName", r.URL.Path)
		gotAuth = r.Header.Get("X-Emby-Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"User":        map[string]string{"Id": "u1", "Name": "listener"},
			"AccessToken": "tok123",
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	require.NoError(t, c.Authenticate(context.Background()))

	assert.Equal(t, "listener", gotBody["Username"])
	assert.Equal(t, "secret", gotBody["Pw"])
	assert.Contains(t, gotAuth, `MediaBrowser Client="yaytsa-player"`)
	assert.Contains(t, gotAuth, `Device="testbox"`)
	assert.Contains(t, gotAuth, `Version="dev"`)

	// The stored token flows into stream locators.
	u := c.StreamURL("item42")
	assert.True(t, strings.HasPrefix(u, srv.URL+"/Audio/item42/stream?"))
	assert.Contains(t, u, "api_key=tok123")
	assert.Contains(t, u, "static=true")
	assert.Contains(t, u, "deviceId=")
}

func TestClient_Authenticate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusUnauthorized)
			},
		},
		{
			name: "empty token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"AccessToken": ""})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(testConfig(srv.URL))
			assert.Error(t, c.Authenticate(context.Background()))
		})
	}
}

func TestClient_Tracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Items", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "album1", q.Get("ParentId"))
		assert.Equal(t, "Audio", q.Get("IncludeItemTypes"))
		assert.Equal(t, "IndexNumber", q.Get("SortBy"))

		json.NewEncoder(w).Encode(map[string]any{
			"Items": []map[string]any{
				{
					"Id":           "t1",
					"Name":         "First",
					"Artists":      []string{"Band"},
					"Album":        "Album One",
					"AlbumId":      "album1",
					"IndexNumber":  1,
					"RunTimeTicks": 1_850_000_000,
					"Container":    "mp3",
				},
				{
					"Id":           "t2",
					"Name":         "Second",
					"IndexNumber":  2,
					"RunTimeTicks": 2_405_000_000,
				},
			},
			"TotalRecordCount": 2,
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	tracks, err := c.Tracks(context.Background(), "album1")
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	assert.Equal(t, "t1", tracks[0].ID)
	assert.Equal(t, "First", tracks[0].Name)
	assert.Equal(t, []string{"Band"}, tracks[0].Artists)
	assert.Equal(t, "Album One", tracks[0].Album)
	assert.Equal(t, 1, tracks[0].IndexNumber)
	assert.Equal(t, 185*time.Second, tracks[0].Duration)
	assert.Equal(t, "mp3", tracks[0].Container)

	// Sub-second precision survives the tick conversion.
	assert.Equal(t, "t2", tracks[1].ID)
	assert.Equal(t, 240*time.Second+500*time.Millisecond, tracks[1].Duration)
}

func TestClient_Reporting(t *testing.T) {
	type received struct {
		path string
		body map[string]any
	}
	var calls []received

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, received{path: r.URL.Path, body: body})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	ctx := context.Background()

	c.ReportStart(ctx, "t1")
	c.ReportProgress(ctx, "t1", 90*time.Second, true)
	c.ReportStopped(ctx, "t1", 185*time.Second)

	require.Len(t, calls, 3)

	assert.Equal(t, "/Sessions/Playing", calls[0].path)
	assert.Equal(t, "t1", calls[0].body["ItemId"])
	assert.Equal(t, "DirectStream", calls[0].body["PlayMethod"])

	assert.Equal(t, "/Sessions/Playing/Progress", calls[1].path)
	assert.Equal(t, float64(900_000_000), calls[1].body["PositionTicks"])
	assert.Equal(t, true, calls[1].body["IsPaused"])

	assert.Equal(t, "/Sessions/Playing/Stopped", calls[2].path)
	assert.Equal(t, float64(1_850_000_000), calls[2].body["PositionTicks"])
}

func TestClient_Reporting_ToleratesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))

	// Reporting is best-effort: failures are logged, never surfaced.
	c.ReportStart(context.Background(), "t1")
	c.ReportProgress(context.Background(), "t1", time.Second, false)
	c.ReportStopped(context.Background(), "t1", time.Second)
}

func TestToTicks(t *testing.T) {
	assert.Equal(t, int64(0), toTicks(0))
	assert.Equal(t, int64(10_000_000), toTicks(time.Second))
	assert.Equal(t, int64(905_000_000), toTicks(90*time.Second+500*time.Millisecond))
}
