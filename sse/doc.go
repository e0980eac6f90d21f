// Package sse writes Server-Sent Events to an HTTP response.
//
//	w, err := sse.NewWriter(rw)
//	if err != nil { ... }
//	stop := w.KeepAlive(15 * time.Second)
//	defer stop()
//	_ = w.Send(sse.EventMessage, payload)
package sse
