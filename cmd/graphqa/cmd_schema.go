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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/GraphQA/services/graphqa"
)

func (c *cli) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and refresh the cached graph schema",
	}

	var asJSON, render bool
	run := func(call func(*apiClient, context.Context) (graphqa.SchemaResponse, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			resp, err := call(c.client(), cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(resp)
			}
			c.renderer().schema(resp)
			if render && resp.Rendered != "" {
				fmt.Fprintln(c.out)
				fmt.Fprintln(c.out, resp.Rendered)
			}
			return nil
		}
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema cache state",
		Args:  cobra.NoArgs,
		RunE:  run((*apiClient).SchemaStatus),
	}
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the schema now, bypassing the TTL",
		Args:  cobra.NoArgs,
		RunE:  run((*apiClient).RefreshSchema),
	}
	refresh.Flags().BoolVar(&render, "print", false, "Print the rendered schema text")
	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached schema",
		Args:  cobra.NoArgs,
		RunE:  run((*apiClient).InvalidateSchema),
	}

	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.AddCommand(status, refresh, invalidate)
	return cmd
}
