// Package api serves the hub's WebSocket command protocol and a small HTTP
// surface (root and health endpoints).
//
// A client connects to the websocket path, receives auth_required, answers
// with an access token and then sends numbered commands:
//
//	-> {"type":"auth","access_token":"..."}
//	<- {"type":"auth_ok","ha_version":"..."}
//	-> {"id":1,"type":"get_states"}
//	<- {"id":1,"type":"result","success":true,"result":[...]}
//
// Command ids must increase on every message. Subscriptions keep sending
// {"id":N,"type":"event"} frames until unsubscribed or the socket closes.
//
// Lifecycle:
//
//	srv, err := api.New(api.Deps{Config: cfg, Hub: h, Auth: validator})
//	if err := srv.Start(); err != nil {
//	    return err // bind failure
//	}
//	defer srv.Close()
package api
