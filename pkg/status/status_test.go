package status

import (
    "io"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "google.golang.org/protobuf/proto"
    "google.golang.org/protobuf/types/known/structpb"
)

func sample() *Snapshot {
    return &Snapshot{
        Server:      "a.example",
        Time:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
        Backend:     "epoll",
        Descriptors: 3,
        Links: []Link{{
            ID:        "5d1b6c1e-0000-4000-8000-000000000001",
            Name:      "b.example",
            Direction: "outbound",
            State:     "established",
            Class:     "default",
            Created:   time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
            SendQ:     12,
            BytesIn:   100,
            Routes:    []Route{{Target: "c.example", Path: []string{"b.example"}}},
        }},
        Reachable: []string{"b.example", "c.example"},
    }
}

func TestCodecs(t *testing.T) {
    reg, err := NewRegistry()
    require.NoError(t, err)

    for _, ct := range []string{ContentJSON, ContentCBOR} {
        t.Run(ct, func(t *testing.T) {
            c := reg.Get(ct)
            require.NotNil(t, c)
            b, err := c.Marshal(sample())
            require.NoError(t, err)
            var out Snapshot
            require.NoError(t, c.Unmarshal(b, &out))
            assert.Equal(t, "a.example", out.Server)
            assert.True(t, sample().Time.Equal(out.Time))
            require.Len(t, out.Links, 1)
            assert.Equal(t, []string{"b.example"}, out.Links[0].Routes[0].Path)
        })
    }

    b, err := reg.Get(ContentProtobuf).Marshal(sample())
    require.NoError(t, err)
    var st structpb.Struct
    require.NoError(t, proto.Unmarshal(b, &st))
    assert.Equal(t, "a.example", st.Fields["server"].GetStringValue())
    links := st.Fields["links"].GetListValue().GetValues()
    require.Len(t, links, 1)
    assert.Equal(t, "b.example", links[0].GetStructValue().Fields["name"].GetStringValue())
}

func TestNegotiate(t *testing.T) {
    reg, err := NewRegistry()
    require.NoError(t, err)
    assert.Equal(t, ContentJSON, reg.Negotiate("").ContentType())
    assert.Equal(t, ContentJSON, reg.Negotiate("text/html").ContentType())
    assert.Equal(t, ContentCBOR, reg.Negotiate("text/html, application/cbor;q=0.9").ContentType())
    assert.Equal(t, ContentProtobuf, reg.Negotiate("application/x-protobuf").ContentType())
}

func TestHandler(t *testing.T) {
    reg, err := NewRegistry()
    require.NoError(t, err)
    board := &Board{}
    srv := httptest.NewServer(NewRouter(board, reg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
        _, _ = io.WriteString(w, "metrics")
    })))
    defer srv.Close()

    resp, err := http.Get(srv.URL + "/status")
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

    board.Publish(sample())

    req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
    req.Header.Set("Accept", ContentCBOR)
    resp, err = http.DefaultClient.Do(req)
    require.NoError(t, err)
    body, _ := io.ReadAll(resp.Body)
    resp.Body.Close()
    assert.Equal(t, ContentCBOR, resp.Header.Get("Content-Type"))
    var out Snapshot
    require.NoError(t, reg.Get(ContentCBOR).Unmarshal(body, &out))
    assert.Equal(t, 3, out.Descriptors)

    resp, err = http.Get(srv.URL + "/status?format=json")
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, ContentJSON, resp.Header.Get("Content-Type"))

    resp, err = http.Get(srv.URL + "/metrics")
    require.NoError(t, err)
    body, _ = io.ReadAll(resp.Body)
    resp.Body.Close()
    assert.Equal(t, "metrics", string(body))

    resp, err = http.Post(srv.URL+"/status", "text/plain", nil)
    require.NoError(t, err)
    resp.Body.Close()
    assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
