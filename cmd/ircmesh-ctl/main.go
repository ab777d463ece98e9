package main

import (
    "context"
    "flag"
    "fmt"
    "io"
    "net/http"
    "os"
    "strings"
    "text/tabwriter"
    "time"

    "github.com/inspircd/inspircd-sub009/pkg/status"
)

func main() {
    addr := flag.String("addr", "http://127.0.0.1:8080", "node HTTP address")
    timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
    routes := flag.Bool("routes", false, "print learned routes per link")
    flag.Parse()

    ctx, cancel := context.WithTimeout(context.Background(), *timeout)
    defer cancel()

    snap, err := fetch(ctx, strings.TrimRight(*addr, "/")+"/status")
    if err != nil {
        fatalf("%v", err)
    }
    printSnapshot(os.Stdout, snap, *routes)
}

func fetch(ctx context.Context, url string) (*status.Snapshot, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return nil, err
    }
    req.Header.Set("Accept", status.ContentCBOR)
    resp, err := http.DefaultClient.Do(req)
    if err != nil {
        return nil, fmt.Errorf("get status: %w", err)
    }
    defer resp.Body.Close()
    body, err := io.ReadAll(resp.Body)
    if err != nil {
        return nil, fmt.Errorf("read status: %w", err)
    }
    if resp.StatusCode != http.StatusOK {
        return nil, fmt.Errorf("status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
    }
    codec, err := status.CBOR()
    if err != nil {
        return nil, err
    }
    var snap status.Snapshot
    if err := codec.Unmarshal(body, &snap); err != nil {
        return nil, fmt.Errorf("decode status: %w", err)
    }
    return &snap, nil
}

func printSnapshot(w io.Writer, s *status.Snapshot, routes bool) {
    fmt.Fprintf(w, "Server: %s  backend=%s  descriptors=%d  at %s\n\n", s.Server, s.Backend, s.Descriptors, s.Time.Format(time.RFC3339))
    tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
    fmt.Fprintln(tw, "NAME\tDIR\tSTATE\tCLASS\tSENDQ\tRECVQ\tIN\tOUT\tROUTES")
    for _, l := range s.Links {
        fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", l.Name, l.Direction, l.State, l.Class, l.SendQ, l.RecvQ, l.BytesIn, l.BytesOut, len(l.Routes))
    }
    _ = tw.Flush()
    if routes {
        for _, l := range s.Links {
            for _, r := range l.Routes {
                fmt.Fprintf(w, "  %s via %s\n", r.Target, strings.Join(r.Path, " -> "))
            }
        }
    }
    fmt.Fprintf(w, "\nReachable (%d): %s\n", len(s.Reachable), strings.Join(s.Reachable, ", "))
}

func fatalf(format string, a ...any) {
    fmt.Fprintf(os.Stderr, "ircmesh-ctl: "+format+"\n", a...)
    os.Exit(1)
}
