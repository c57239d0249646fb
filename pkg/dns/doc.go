// Package dns resolves declared hostnames with github.com/miekg/dns so that
// the handlers can fail fast on an unresolvable NTP server, auth server or
// cluster peer instead of letting the device reject a half-applied change.
package dns
