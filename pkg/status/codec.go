package status

import (
    "encoding/json"
    "fmt"
    "mime"
    "strings"

    cbor "github.com/fxamacker/cbor/v2"
    "google.golang.org/protobuf/proto"
)

const (
    ContentJSON     = "application/json"
    ContentCBOR     = "application/cbor"
    ContentProtobuf = "application/x-protobuf"
)

// Codec encodes a Snapshot for one content type.
type Codec interface {
    ContentType() string
    Marshal(s *Snapshot) ([]byte, error)
    Unmarshal(data []byte, s *Snapshot) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string                      { return ContentJSON }
func (jsonCodec) Marshal(s *Snapshot) ([]byte, error)      { return json.Marshal(s) }
func (jsonCodec) Unmarshal(data []byte, s *Snapshot) error { return json.Unmarshal(data, s) }

type cborCodec struct {
    enc cbor.EncMode
    dec cbor.DecMode
}

// CBOR returns a deterministic codec with core encoding and RFC 3339 times.
func CBOR() (Codec, error) {
    opts := cbor.CoreDetEncOptions()
    opts.Time = cbor.TimeRFC3339Nano
    em, err := opts.EncMode()
    if err != nil {
        return nil, err
    }
    dm, err := cbor.DecOptions{}.DecMode()
    if err != nil {
        return nil, err
    }
    return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) ContentType() string                        { return ContentCBOR }
func (c cborCodec) Marshal(s *Snapshot) ([]byte, error)      { return c.enc.Marshal(s) }
func (c cborCodec) Unmarshal(data []byte, s *Snapshot) error { return c.dec.Unmarshal(data, s) }

// protoCodec carries the snapshot as a google.protobuf.Struct. Decoding back
// into a Snapshot is not supported; clients read the Struct directly.
type protoCodec struct {
    mo proto.MarshalOptions
}

func (protoCodec) ContentType() string { return ContentProtobuf }

func (p protoCodec) Marshal(s *Snapshot) ([]byte, error) {
    st, err := s.Struct()
    if err != nil {
        return nil, fmt.Errorf("protobuf: %w", err)
    }
    return p.mo.Marshal(st)
}

func (protoCodec) Unmarshal([]byte, *Snapshot) error {
    return fmt.Errorf("protobuf: decode into snapshot unsupported")
}

// Registry maps content types to codecs. JSON is the fallback.
type Registry struct {
    byType map[string]Codec
    order  []string
}

// NewRegistry returns a registry with JSON, CBOR and protobuf.
func NewRegistry() (*Registry, error) {
    r := &Registry{byType: make(map[string]Codec)}
    r.Register(jsonCodec{})
    c, err := CBOR()
    if err != nil {
        return nil, err
    }
    r.Register(c)
    r.Register(protoCodec{mo: proto.MarshalOptions{Deterministic: true}})
    return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) {
    if _, ok := r.byType[c.ContentType()]; !ok {
        r.order = append(r.order, c.ContentType())
    }
    r.byType[c.ContentType()] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// Negotiate picks a codec for an Accept header. Media types are tried in
// the order listed; quality values are ignored. Anything unknown gets JSON.
func (r *Registry) Negotiate(accept string) Codec {
    for _, part := range strings.Split(accept, ",") {
        mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
        if err != nil {
            continue
        }
        if c, ok := r.byType[mt]; ok {
            return c
        }
    }
    return r.byType[ContentJSON]
}
