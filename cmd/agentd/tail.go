package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"AgentNFT-Chain/sdk/go/agentnft"
)

func newTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "订阅节点事件流并逐行输出 JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			node, _ := cmd.Flags().GetString("node")
			names, _ := cmd.Flags().GetStringSlice("name")
			client, err := agentnft.NewClient(node, nil)
			if err != nil {
				return err
			}
			stream, err := client.SubscribeEvents(cmd.Context(), trimNames(names)...)
			if err != nil {
				return fmt.Errorf("订阅事件失败: %w", err)
			}
			defer stream.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range stream.Events() {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return stream.Err()
		},
	}
	cmd.Flags().String("node", "http://127.0.0.1:8080", "节点 API 地址")
	cmd.Flags().StringSlice("name", nil, "仅输出指定名称的事件，可重复或以逗号分隔")
	return cmd
}

// trimNames 去掉空白名称。
func trimNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
