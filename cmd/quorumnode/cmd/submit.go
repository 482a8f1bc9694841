package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"quorumnode/internal/config"
)

var (
	submitConfigPath string
	submitValue      string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a value to a running node's admin endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(submitConfigPath)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		if cfg.ControlAddr == "" {
			fmt.Println("Error: cluster config has no controlAddr, nothing to dial")
			os.Exit(1)
		}

		body, _ := json.Marshal(map[string]string{"value": submitValue})
		resp, err := http.Post(fmt.Sprintf("http://%s/submit", cfg.ControlAddr), "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		var out struct {
			CSN int64 `json:"csn"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Println("Error decoding response:", err)
			os.Exit(1)
		}
		fmt.Printf("submitted at csn=%d\n", out.CSN)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitConfigPath, "config", "cluster.yaml", "path to the cluster YAML config")
	submitCmd.Flags().StringVar(&submitValue, "value", "", "value to submit")
	submitCmd.MarkFlagRequired("value")
}
