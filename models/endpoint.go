package models

import (
	"strconv"
	"strings"
)

// Endpoint is a normalized network locator scoped to a product.
// Absent components are nil.
type Endpoint struct {
	ID        int64   `db:"id"         json:"id"`
	ProductID int64   `db:"product_id" json:"product"`
	Protocol  *string `db:"protocol"   json:"protocol"`
	Userinfo  *string `db:"userinfo"   json:"userinfo"`
	Host      *string `db:"host"       json:"host"`
	Port      *int    `db:"port"       json:"port"`
	Path      *string `db:"path"       json:"path"`
	Query     *string `db:"query"      json:"query"`
	Fragment  *string `db:"fragment"   json:"fragment"`
	CreatedAt string  `db:"created_at" json:"created"`

	Tags []string `db:"-" json:"tags"`
}

// String renders the endpoint as a URL-like locator.
func (e *Endpoint) String() string {
	var b strings.Builder
	if e.Protocol != nil {
		b.WriteString(*e.Protocol)
		b.WriteString("://")
	}
	if e.Userinfo != nil {
		b.WriteString(*e.Userinfo)
		b.WriteString("@")
	}
	if e.Host != nil {
		b.WriteString(*e.Host)
	}
	if e.Port != nil {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(*e.Port))
	}
	if e.Path != nil {
		b.WriteString("/")
		b.WriteString(*e.Path)
	}
	if e.Query != nil {
		b.WriteString("?")
		b.WriteString(*e.Query)
	}
	if e.Fragment != nil {
		b.WriteString("#")
		b.WriteString(*e.Fragment)
	}
	return b.String()
}

// EndpointQuery describes an identity match within one product.
// Protocol and host compare case-insensitively; nil components must be absent.
// When PortOrNull is set a stored NULL port also matches Port.
type EndpointQuery struct {
	ProductID  int64
	Protocol   *string
	Userinfo   *string
	Host       *string
	Port       *int
	PortOrNull bool
	Path       *string
	Query      *string
	Fragment   *string
}
