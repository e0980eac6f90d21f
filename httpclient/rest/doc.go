// Package rest adds typed JSON request helpers on top of httpclient.
//
//	c, _ := rest.New(httpclient.Config{BaseURL: "http://127.0.0.1:8081"})
//	resp, err := rest.Post[completionResponse](ctx, c, "/completion", req)
package rest
