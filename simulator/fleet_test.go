package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRobots(t *testing.T) {
	refs := ParseRobots(" r1=Ava, r2 ,,")
	assert.Equal(t, []RobotRef{{ID: "r1", Name: "Ava"}, {ID: "r2", Name: "r2"}}, refs)
	assert.Empty(t, ParseRobots(""))
}

func TestFetchRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/robots", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"r1","name":"Ava","action":"charging"}]`))
	}))
	defer srv.Close()

	refs, err := FetchRobots(context.Background(), srv.URL+"/", "tok")
	require.NoError(t, err)
	assert.Equal(t, []RobotRef{{ID: "r1", Name: "Ava"}}, refs)

	_, err = FetchRobots(context.Background(), srv.URL, "wrong")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	ok := Config{Broker: "tcp://b:1883", Robots: "r1", Interval: time.Second, StartBattery: 80}
	assert.NoError(t, ok.Validate())

	noRobots := ok
	noRobots.Robots = ""
	assert.Error(t, noRobots.Validate())

	badDrop := ok
	badDrop.DropRate = 2
	assert.Error(t, badDrop.Validate())
}
