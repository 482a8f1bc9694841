package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"quorumnode/internal/config"
)

var decidedConfigPath string

var decidedCmd = &cobra.Command{
	Use:   "decided",
	Short: "Print the decided values known to a running node and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(decidedConfigPath)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		if cfg.ControlAddr == "" {
			fmt.Println("Error: cluster config has no controlAddr, nothing to dial")
			os.Exit(1)
		}

		resp, err := http.Get(fmt.Sprintf("http://%s/decided", cfg.ControlAddr))
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		var decided map[int64]string
		if err := json.NewDecoder(resp.Body).Decode(&decided); err != nil {
			fmt.Println("Error decoding response:", err)
			os.Exit(1)
		}
		for csn, value := range decided {
			fmt.Printf("%d: %s\n", csn, value)
		}
	},
}

func init() {
	rootCmd.AddCommand(decidedCmd)
	decidedCmd.Flags().StringVar(&decidedConfigPath, "config", "cluster.yaml", "path to the cluster YAML config")
}
