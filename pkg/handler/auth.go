package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/configreader"
	"github.com/cuemby/onboard/pkg/types"
)

// SystemAuthName is the only name the device accepts for radius, ldap and tacacs configs
const SystemAuthName = "system-auth"

// Auth applies remote roles and remote authentication
type Auth struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewAuth(decl map[string]any, deps Deps) *Auth {
	return &Auth{decl: decl, deps: deps, logger: deps.logger("auth")}
}

func (h *Auth) Name() string { return "auth" }

func (h *Auth) Process(ctx context.Context) error {
	if err := h.processRemoteRoles(ctx); err != nil {
		return fmt.Errorf("remote roles: %w", err)
	}

	auth, ok, err := decodeSection[types.Authentication](h.decl, "Authentication")
	if err != nil || !ok {
		return err
	}

	if auth.Radius != nil {
		if err := h.processRadius(ctx, auth.Radius); err != nil {
			return fmt.Errorf("radius: %w", err)
		}
	}
	if auth.LDAP != nil {
		if err := h.processLDAP(ctx, auth.LDAP); err != nil {
			return fmt.Errorf("ldap: %w", err)
		}
	}
	if auth.TACACS != nil {
		if err := h.processTACACS(ctx, auth.TACACS); err != nil {
			return fmt.Errorf("tacacs: %w", err)
		}
	}
	if d := auth.RemoteUsersDefaults; d != nil {
		body := map[string]any{}
		if d.Role != "" {
			body["defaultRole"] = d.Role
		}
		if d.PartitionAccess != "" {
			body["defaultPartition"] = d.PartitionAccess
		}
		if d.TerminalAccess != "" {
			body["remoteConsoleAccess"] = d.TerminalAccess
		}
		if _, err := h.deps.Device.Modify(ctx, "/tm/auth/remote-user", body); err != nil {
			return fmt.Errorf("remote users defaults: %w", err)
		}
	}

	source := auth.EnabledSourceType
	if source == "" {
		source = "local"
	}
	h.logger.Info().Str("source", source).Msg("Setting auth source")
	_, err = h.deps.Device.Modify(ctx, "/tm/auth/source", map[string]any{
		"type":     source,
		"fallback": fmt.Sprint(auth.Fallback),
	})
	return err
}

func (h *Auth) processRemoteRoles(ctx context.Context) error {
	roles, err := decodeNamed[types.RemoteAuthRole](h.decl, "RemoteAuthRole")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		role := roles[name]
		body := map[string]any{
			"name":      name,
			"attribute": role.Attribute,
			"deny":      enabled(!role.RemoteAccess),
		}
		if role.LineOrder != nil {
			body["lineOrder"] = *role.LineOrder
		}
		if role.Console != "" {
			body["console"] = role.Console
		}
		if role.Role != "" {
			body["role"] = role.Role
		}
		if role.UserPartition != "" {
			body["userPartition"] = role.UserPartition
		}
		if _, err := h.deps.Device.CreateOrModify(ctx, "/tm/auth/remote-role/role-info", body); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (h *Auth) processRadius(ctx context.Context, radius *types.Radius) error {
	servers := []struct {
		name   string
		server *types.RadiusServer
	}{
		{configreader.RadiusPrimaryName, radius.Servers.Primary},
		{configreader.RadiusSecondaryName, radius.Servers.Secondary},
	}

	for _, s := range servers {
		if s.server != nil {
			if err := resolveAll(ctx, h.deps.Resolver, s.server.Server); err != nil {
				return err
			}
		}
	}

	var names []string
	for _, s := range servers {
		if s.server == nil {
			continue
		}
		body := map[string]any{"name": s.name, "server": s.server.Server}
		if s.server.Port != 0 {
			body["port"] = s.server.Port
		}
		if s.server.Secret != "" {
			body["secret"] = s.server.Secret
		}
		if _, err := h.deps.Device.CreateOrModify(ctx, "/tm/auth/radius-server", body); err != nil {
			return err
		}
		names = append(names, s.name)
	}

	body := map[string]any{"name": SystemAuthName, "servers": names}
	if radius.ServiceType != "" {
		body["serviceType"] = radius.ServiceType
	}
	_, err := h.deps.Device.CreateOrModify(ctx, "/tm/auth/radius", body)
	return err
}

func (h *Auth) processLDAP(ctx context.Context, ldap *types.LDAP) error {
	if err := resolveAll(ctx, h.deps.Resolver, ldap.Servers...); err != nil {
		return err
	}
	body := map[string]any{
		"name":            SystemAuthName,
		"servers":         orEmpty(ldap.Servers),
		"checkRolesGroup": enabled(ldap.CheckRolesGroup),
	}
	optional := map[string]string{
		"bindDn":       ldap.BindDN,
		"bindPw":       ldap.BindPassword,
		"searchBaseDn": ldap.SearchBaseDN,
		"ssl":          ldap.SSL,
		"userTemplate": ldap.UserTemplate,
	}
	for k, v := range optional {
		if v != "" {
			body[k] = v
		}
	}
	if ldap.Port != 0 {
		body["port"] = ldap.Port
	}
	if ldap.Version != 0 {
		body["version"] = ldap.Version
	}
	_, err := h.deps.Device.CreateOrModify(ctx, "/tm/auth/ldap", body)
	return err
}

func (h *Auth) processTACACS(ctx context.Context, tacacs *types.TACACS) error {
	if err := resolveAll(ctx, h.deps.Resolver, tacacs.Servers...); err != nil {
		return err
	}
	body := map[string]any{
		"name":    SystemAuthName,
		"servers": orEmpty(tacacs.Servers),
	}
	optional := map[string]string{
		"protocol":   tacacs.Protocol,
		"secret":     tacacs.Secret,
		"service":    tacacs.Service,
		"accounting": tacacs.Accounting,
	}
	for k, v := range optional {
		if v != "" {
			body[k] = v
		}
	}
	_, err := h.deps.Device.CreateOrModify(ctx, "/tm/auth/tacacs", body)
	return err
}
