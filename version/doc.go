// Package version reports build information for the chatbot binary.
//
// Version, commit and build time are stamped at link time:
//
//	go build -ldflags "-X github.com/kbukum/localchat/version.Version=1.2.0" ./cmd/chatbot
//
// Fields left empty are filled from the VCS stamp Go embeds in the binary.
package version
