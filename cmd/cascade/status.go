package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/cascade/pkg/client"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect workflows on a running server",
	}
	cmd.PersistentFlags().StringVar(&server, "server", "127.0.0.1:8018", "Cascade server address")

	cmd.AddCommand(newStatusListCmd(&server))
	cmd.AddCommand(newStatusTreeCmd(&server))
	cmd.AddCommand(newStatusClassesCmd(&server))
	return cmd
}

func newStatusListCmd(server *string) *cobra.Command {
	var classPath, cursor string
	var count int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List root pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.NewClient(*server).RootList(context.Background(), classPath, cursor, count)
			if err != nil {
				return err
			}
			for _, item := range result.Pipelines {
				fmt.Printf("%-36s  %-10s  %s\n", item.PipelineID, item.Status, item.ClassPath)
			}
			if result.Cursor != "" {
				fmt.Printf("more: --cursor %s\n", result.Cursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&classPath, "class-path", "", "Filter by stage class path")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume listing from cursor")
	cmd.Flags().IntVar(&count, "count", 50, "Page size")
	return cmd
}

func newStatusTreeCmd(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <root-pipeline-id>",
		Short: "Dump a workflow's status tree as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := client.NewClient(*server).Tree(context.Background(), args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(tree)
		},
	}
}

func newStatusClassesCmd(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List registered stage class paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := client.NewClient(*server).ClassPaths(context.Background())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}
