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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
)

// errAborted is returned when a confirmation prompt is declined.
var errAborted = errors.New("aborted")

func (c *cli) newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the tool catalog",
	}
	cmd.AddCommand(c.newToolsListCmd(), c.newToolsShowCmd(), c.newToolsAddCmd(), c.newToolsDeleteCmd())
	return cmd
}

func (c *cli) newToolsListCmd() *cobra.Command {
	var category string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.client().ListTools(cmd.Context(), category)
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(resp)
			}
			c.renderer().tools(resp.Tools)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list tools of this category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (c *cli) newToolsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := c.client().GetTool(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(tool)
			}
			c.renderer().tool(tool)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (c *cli) newToolsAddCmd() *cobra.Command {
	var (
		file     string
		d        catalog.ToolDescriptor
		category string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a custom tool from a YAML file or flags",
		Example: `  graphqa tools add --file orphan_files.yaml
  graphqa tools add --name orphan_files --category Architecture \
    --description "Files nothing imports" \
    --query "MATCH (f:File) WHERE NOT (f)<-[:IMPORTS]-() RETURN f.path AS path"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc := d
			if file != "" {
				fromFile, err := readToolFile(file)
				if err != nil {
					return err
				}
				desc = mergeToolFlags(fromFile, d, cmd)
			}
			if category != "" {
				desc.Category = catalog.Category(category)
			}
			if desc.Name == "" {
				return fmt.Errorf("a tool name is required (--name or name: in --file)")
			}
			created, err := c.client().CreateTool(cmd.Context(), desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Created tool %s\n", created.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with one tool descriptor")
	cmd.Flags().StringVar(&d.Name, "name", "", "Tool name")
	cmd.Flags().StringVar(&d.Description, "description", "", "What the tool answers")
	cmd.Flags().StringVar(&category, "category", "", "Tool category")
	cmd.Flags().StringVar(&d.Query, "query", "", "Read-only Cypher query")
	cmd.Flags().StringSliceVar(&d.Keywords, "keyword", nil, "Routing keyword (repeatable)")
	return cmd
}

// readToolFile parses a single descriptor in the catalog's YAML format.
func readToolFile(path string) (catalog.ToolDescriptor, error) {
	var d catalog.ToolDescriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

// mergeToolFlags overrides file fields with explicitly set flags.
func mergeToolFlags(d, flags catalog.ToolDescriptor, cmd *cobra.Command) catalog.ToolDescriptor {
	if cmd.Flags().Changed("name") {
		d.Name = flags.Name
	}
	if cmd.Flags().Changed("description") {
		d.Description = flags.Description
	}
	if cmd.Flags().Changed("query") {
		d.Query = flags.Query
	}
	if cmd.Flags().Changed("keyword") {
		d.Keywords = flags.Keywords
	}
	return d
}

func (c *cli) newToolsDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a custom tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !yes {
				if !c.interactive {
					return fmt.Errorf("refusing to delete %s without a terminal; pass --yes", name)
				}
				ok, err := c.confirm(fmt.Sprintf("Delete tool %q?", name))
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}
			if err := c.client().DeleteTool(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Deleted tool %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
