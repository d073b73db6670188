package main

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

func newKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "生成 secp256k1 签名密钥",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("生成密钥失败: %w", err)
			}
			out, _ := cmd.Flags().GetString("out")
			addr := crypto.PubkeyToAddress(key.PublicKey)
			if out != "" {
				if err := crypto.SaveECDSA(out, key); err != nil {
					return fmt.Errorf("写入密钥文件失败: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey file: %s\n", addr.Hex(), out)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nprivate key: %s\n", addr.Hex(), hex.EncodeToString(crypto.FromECDSA(key)))
			return nil
		},
	}
	cmd.Flags().String("out", "", "将十六进制私钥写入文件而不是标准输出")
	return cmd
}
