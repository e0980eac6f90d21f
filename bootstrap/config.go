package bootstrap

import "github.com/kbukum/localchat/config"

// Config is the constraint for application configuration types. A struct
// embedding config.ServiceConfig gets GetServiceConfig for free and
// overrides ApplyDefaults and Validate to cover its own sections.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
