package model

import (
	"fmt"
	"strconv"
)

// Account identifies the grid user a connection or transfer acts for.
type Account struct {
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	Zone            string `json:"zone" yaml:"zone"`
	User            string `json:"user" yaml:"user"`
	DefaultResource string `json:"default_resource,omitempty" yaml:"default_resource"`
}

// Identity is the stable account identity string used in restart identifiers.
func (a Account) Identity() string {
	return fmt.Sprintf("%s#%s@%s:%d", a.User, a.Zone, a.Host, a.Port)
}

// Address is the host:port dial address.
func (a Account) Address() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}
