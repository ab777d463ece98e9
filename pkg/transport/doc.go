// Package transport defines the non-blocking socket contract shared by the
// socket engine, connections and the event loop, plus two implementations:
//
//   - tcp: raw non-blocking TCP sockets driven through golang.org/x/sys/unix
//   - mem: in-process connected pairs and a named listener registry, used by
//     tests and by daemons linked inside one process
//
// Nothing here blocks. Readiness comes from the socket engine; sockets only
// move bytes when told they can.
package transport
