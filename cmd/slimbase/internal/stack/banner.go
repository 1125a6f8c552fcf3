// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stack

import (
	"strconv"

	"github.com/AleutianAI/slimbase/pkg/ux"
	"github.com/AleutianAI/slimbase/services/gateway"
)

// BannerFields are the connection details shown once the stack is ready.
func BannerFields(info Info) []ux.Field {
	fields := []ux.Field{
		{Label: "Gateway", Value: info.GatewayURL},
		{Label: "REST", Value: info.GatewayURL + gateway.PrefixDataAPI},
	}
	if info.AuthEnabled() {
		fields = append(fields, ux.Field{Label: "Auth", Value: info.GatewayURL + gateway.PrefixAuthAPI})
	}
	fields = append(fields,
		ux.Field{Label: "DB", Value: info.DatabaseURL},
		ux.Field{Label: "Anon key", Value: info.Bundle.AnonKey},
		ux.Field{Label: "Service role key", Value: info.Bundle.ServiceRoleKey},
	)
	if info.Config.Gateway.MetricsPort > 0 {
		fields = append(fields, ux.Field{
			Label: "Metrics",
			Value: "http://127.0.0.1:" + strconv.Itoa(info.Config.Gateway.MetricsPort) + "/metrics",
		})
	}
	return fields
}

// PrintBanner prints the ready banner.
func PrintBanner(p *ux.Printer, info Info) {
	p.Box("slimbase is ready", BannerFields(info))
	for _, m := range info.Reallocated {
		p.Warning("port " + strconv.Itoa(m.Preferred) + " was busy, " + m.Field + " uses " + strconv.Itoa(m.Chosen))
	}
}
