/*
Package types defines the data model shared by every onboarding component.

# Declarations and Configs

A Declaration is the raw tree a client submits: tenants keyed by name, each
holding objects tagged with a class discriminator. A Config is the normalized
form produced by the parser and by the config reader:

	Config{
		"Common": {
			"hostname": "bigip1.example.com",
			"DNS":      map[string]any{"nameServers": []any{"1.1.1.1"}},
			"VLAN":     map[string]any{"external": map[string]any{"tag": 100.0}},
		},
	}

Singleton classes (DNS, NTP, Provision, ...) map straight to an object. Named
classes (VLAN, SelfIp, Route, ...) map instance names to objects. Handlers
decode their slice into the typed structs in classes.go with Decode and
DecodeNamed.

# Tasks

Task is the persisted record of one submitted declaration. Its Result.Status
moves RUNNING -> OK, or through REBOOTING, REVOKING or ROLLING_BACK before
reaching OK or ERROR. Result.Code mirrors the HTTP status a client sees.

# Errors

ValidationError maps to 400, RollbackError to 500, and any other failure
during apply triggers a rollback. DeviceError and ResolutionError carry the
failing path or host.
*/
package types
