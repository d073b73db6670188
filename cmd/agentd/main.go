// Command agentd runs an AgentNFT node.
//
// Usage:
//
//	agentd serve   --config configs/agentd.yaml
//	agentd migrate --config configs/agentd.yaml
//	agentd keygen  [--out key.hex]
//
// The configuration path defaults to $AGENTNFT_CONFIG, then
// configs/agentd.yaml.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "agentd 运行失败:", err)
		os.Exit(1)
	}
}
