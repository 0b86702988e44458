package endpoint

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

var (
	protocolRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.\-+]+$`)
	userinfoRe = regexp.MustCompile(`^[A-Za-z0-9.\-_~%!$&'()*+,;=:]+$`)
	hostRe     = regexp.MustCompile(`^[A-Za-z0-9_\-+][A-Za-z0-9_.\-+]+$`)
)

// SchemePorts maps a lower-case scheme to its default port. A stored
// endpoint without a port is considered to use this port.
var SchemePorts = map[string]int{
	"acap": 674, "afp": 548, "dict": 2628, "dns": 53, "ftp": 21, "git": 9418,
	"gopher": 70, "http": 80, "https": 443, "imap": 143, "ipp": 631, "ipps": 631,
	"irc": 194, "ircs": 6697, "ldap": 389, "ldaps": 636, "mms": 1755, "msrp": 2855,
	"mtqp": 1038, "nfs": 111, "nntp": 119, "nntps": 563, "pop": 110, "prospero": 1525,
	"redis": 6379, "rsync": 873, "rtsp": 554, "rtsps": 322, "rtspu": 5005, "sftp": 22,
	"smb": 445, "snmp": 161, "ssh": 22, "svn": 3690, "telnet": 23, "ventrilo": 3784,
	"vnc": 5900, "wais": 210, "ws": 80, "wss": 443,
}

// Clean validates the shape of e and normalises it in place: empty
// components become absent, protocol and host are lower-cased, and the
// leading "/", "?" and "#" are dropped from path, query and fragment. All
// problems are reported together.
func Clean(e *models.Endpoint) error {
	var problems []string
	field := ""
	fail := func(name, msg string) {
		if field == "" {
			field = name
		}
		problems = append(problems, msg)
	}

	e.Protocol = emptyToNil(e.Protocol)
	if e.Protocol != nil && !protocolRe.MatchString(*e.Protocol) {
		fail("protocol", fmt.Sprintf("Protocol %q has invalid format", *e.Protocol))
	}
	e.Protocol = lower(e.Protocol)

	e.Userinfo = emptyToNil(e.Userinfo)
	if e.Userinfo != nil && !userinfoRe.MatchString(*e.Userinfo) {
		fail("userinfo", fmt.Sprintf("Userinfo %q has invalid format", *e.Userinfo))
	}

	e.Host = emptyToNil(e.Host)
	switch {
	case e.Host == nil:
		fail("host", "Host must not be empty")
	case !hostRe.MatchString(*e.Host) && net.ParseIP(*e.Host) == nil:
		fail("host", fmt.Sprintf("Host %q has invalid format", *e.Host))
	}
	e.Host = lower(e.Host)

	if e.Port != nil && (*e.Port < 0 || *e.Port > 65535) {
		fail("port", fmt.Sprintf("Port \"%d\" has invalid format - out of range", *e.Port))
	}

	if e.Path != nil {
		p := strings.TrimLeft(*e.Path, "/")
		e.Path = emptyToNil(&p)
	}
	if e.Query != nil {
		q := strings.TrimPrefix(*e.Query, "?")
		e.Query = emptyToNil(&q)
	}
	if e.Fragment != nil {
		f := strings.TrimPrefix(*e.Fragment, "#")
		e.Fragment = emptyToNil(&f)
	}

	if len(problems) > 0 {
		return apierr.Validation(field, strings.Join(problems, "; "))
	}
	return nil
}

// IdentityQuery builds the identity match for a cleaned endpoint. An explicit
// default port and a missing one are the same identity, in both directions.
func IdentityQuery(e models.Endpoint) models.EndpointQuery {
	q := models.EndpointQuery{
		ProductID: e.ProductID,
		Protocol:  e.Protocol,
		Userinfo:  e.Userinfo,
		Host:      e.Host,
		Port:      e.Port,
		Path:      e.Path,
		Query:     e.Query,
		Fragment:  e.Fragment,
	}
	if e.Protocol == nil {
		return q
	}
	def, ok := SchemePorts[strings.ToLower(*e.Protocol)]
	switch {
	case !ok:
	case e.Port == nil:
		q.Port, q.PortOrNull = &def, true
	case *e.Port == def:
		q.PortOrNull = true
	}
	return q
}

func lower(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToLower(*s)
	return &v
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
