package main

import (
    "bytes"
    "context"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/inspircd/inspircd-sub009/pkg/status"
)

func TestFetchAndPrint(t *testing.T) {
    board := &status.Board{}
    board.Publish(&status.Snapshot{
        Server:  "hub.example",
        Time:    time.Unix(1700000000, 0).UTC(),
        Backend: "epoll",
        Links: []status.Link{{
            Name: "leaf.example", Direction: "inbound", State: "established", Class: "default",
            Routes: []status.Route{{Target: "far.example", Path: []string{"leaf.example"}}},
        }},
        Reachable: []string{"far.example", "leaf.example"},
    })
    codecs, err := status.NewRegistry()
    require.NoError(t, err)
    srv := httptest.NewServer(status.NewRouter(board, codecs, nil))
    defer srv.Close()

    snap, err := fetch(context.Background(), srv.URL+"/status")
    require.NoError(t, err)
    assert.Equal(t, "hub.example", snap.Server)

    var out bytes.Buffer
    printSnapshot(&out, snap, true)
    assert.Contains(t, out.String(), "leaf.example")
    assert.Contains(t, out.String(), "far.example via leaf.example")
    assert.Contains(t, out.String(), "Reachable (2): far.example, leaf.example")
}

func TestFetchBeforeSnapshot(t *testing.T) {
    codecs, err := status.NewRegistry()
    require.NoError(t, err)
    srv := httptest.NewServer(status.NewRouter(&status.Board{}, codecs, nil))
    defer srv.Close()
    _, err = fetch(context.Background(), srv.URL+"/status")
    assert.ErrorContains(t, err, "503")
}
