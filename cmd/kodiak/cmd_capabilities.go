// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/services/coordinator/capability"
)

func runCapabilitiesCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newCoordinatorClient(serverURL)
	var resp struct {
		Capabilities []capability.Info `json:"capabilities"`
	}
	if err := client.getJSON(ctx, "/v1/capabilities", &resp); err != nil {
		OutputError("listing capabilities failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(resp.Capabilities)
		return
	}

	fmt.Println(titleStyle.Render("Capabilities"))
	for _, info := range resp.Capabilities {
		var guards []string
		if info.Guards.Breaker {
			guards = append(guards, "breaker")
		}
		if info.Guards.RateLimit > 0 {
			guards = append(guards, fmt.Sprintf("rate=%d/%s",
				info.Guards.RateLimit, info.Guards.RateWindow))
		}
		if info.Guards.CacheTTL > 0 {
			guards = append(guards, "cache="+info.Guards.CacheTTL.String())
		}
		if info.Guards.Exclusive {
			guards = append(guards, "exclusive")
		}
		guardText := "none"
		if len(guards) > 0 {
			guardText = strings.Join(guards, " ")
		}
		fmt.Printf("  %-16s %s\n", info.Name, info.Description)
		fmt.Printf("    guards: %s\n", dimStyle.Render(guardText))
		fmt.Printf("    calls:  %d ok, %d failed\n",
			info.Stats.SuccessfulTasks, info.Stats.FailedTasks)
	}
}
