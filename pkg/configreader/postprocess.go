package configreader

// Fixed names the device uses for the primary and secondary RADIUS servers
const (
	RadiusPrimaryName   = "system_auth_name1"
	RadiusSecondaryName = "system_auth_name2"
)

// postProcess reshapes raw class data into declaration form
func postProcess(common, declared map[string]any) {
	hoistHostname(common)
	narrowDbVariables(common, declared)
	flattenProvision(common, declared)
	selfDeviceSettings(common)
	renameRadiusServers(common)
}

func hoistHostname(common map[string]any) {
	system, ok := common["System"].(map[string]any)
	if !ok {
		return
	}
	if hostname, ok := system["hostname"]; ok {
		common["hostname"] = hostname
		delete(system, "hostname")
	}
}

// narrowDbVariables keeps only the db variables the declaration names
func narrowDbVariables(common, declared map[string]any) {
	all, ok := common["DbVariables"].(map[string]any)
	if !ok {
		return
	}
	wanted, _ := declared["DbVariables"].(map[string]any)
	if len(wanted) == 0 {
		delete(common, "DbVariables")
		return
	}

	out := map[string]any{}
	for name := range wanted {
		inst, ok := all[name].(map[string]any)
		if !ok {
			continue
		}
		if value, ok := inst["value"]; ok {
			out[name] = value
		}
	}
	common["DbVariables"] = out
}

// flattenProvision turns module instances into {module: level}. Modules at
// level none are left out unless the declaration mentions them.
func flattenProvision(common, declared map[string]any) {
	all, ok := common["Provision"].(map[string]any)
	if !ok {
		return
	}
	wanted, _ := declared["Provision"].(map[string]any)

	out := map[string]any{}
	for module, v := range all {
		inst, _ := v.(map[string]any)
		level, _ := inst["level"].(string)
		if level == "" {
			continue
		}
		if _, mentioned := wanted[module]; level != "none" || mentioned {
			out[module] = level
		}
	}
	common["Provision"] = out
}

// selfDeviceSettings derives ConfigSync and FailoverUnicast from the self device
func selfDeviceSettings(common map[string]any) {
	devices, ok := common["ConfigSync"].(map[string]any)
	delete(common, "ConfigSync")
	if !ok {
		return
	}

	var self map[string]any
	for _, v := range devices {
		device, _ := v.(map[string]any)
		if isSelf, _ := device["selfDevice"].(string); isSelf == "true" {
			self = device
			break
		}
	}
	if self == nil {
		return
	}

	if ip, _ := self["configsyncIp"].(string); ip != "" && ip != "none" {
		common["ConfigSync"] = map[string]any{"configsyncIp": ip}
	}

	addresses, _ := self["unicastAddress"].([]any)
	if len(addresses) == 0 {
		return
	}
	first, _ := addresses[0].(map[string]any)
	ip, _ := first["ip"].(string)
	if ip == "" || ip == "any6" {
		return
	}
	failover := map[string]any{"address": ip}
	if port, ok := first["port"]; ok {
		failover["port"] = port
	}
	common["FailoverUnicast"] = failover
}

func renameRadiusServers(common map[string]any) {
	auth, _ := common["Authentication"].(map[string]any)
	radius, _ := auth["radius"].(map[string]any)
	servers, ok := radius["servers"].(map[string]any)
	if !ok {
		return
	}

	renamed := map[string]any{}
	if primary, ok := servers[RadiusPrimaryName]; ok {
		renamed["primary"] = primary
	}
	if secondary, ok := servers[RadiusSecondaryName]; ok {
		renamed["secondary"] = secondary
	}
	radius["servers"] = renamed
}
